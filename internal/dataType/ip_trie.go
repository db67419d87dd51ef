package dataType

import "net"

// TrieNode is a binary prefix trie over IP address bits. One trie holds one
// address family; the caller keeps separate tries for IPv4 and IPv6 so a
// 32-bit address can never walk into a 128-bit prefix.
type TrieNode struct {
	children [2]*TrieNode
	isEnd    bool
}

// Insert adds a CIDR rule into the trie. The address bytes must already be
// normalized to the trie's family width (4 or 16 bytes).
func (node *TrieNode) Insert(ip []byte, prefixLen int) {
	if prefixLen < 0 || prefixLen > len(ip)*8 {
		return
	}
	current := node
	for i := 0; i < prefixLen; i++ {
		bit := (ip[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			current.children[bit] = &TrieNode{}
		}
		current = current.children[bit]
	}
	current.isEnd = true
}

// Search reports whether ip falls under any inserted prefix. The address
// bytes must match the trie's family width.
func (node *TrieNode) Search(ip []byte) bool {
	current := node
	for i := 0; i < len(ip)*8; i++ {
		if current.isEnd {
			return true
		}
		bit := (ip[i/8] >> (7 - uint(i%8))) & 1
		if current.children[bit] == nil {
			return false
		}
		current = current.children[bit]
	}
	return current.isEnd
}

// InsertNet adds a parsed *net.IPNet into the matching family trie pair.
func InsertNet(v4, v6 *TrieNode, ipNet *net.IPNet) {
	ones, bits := ipNet.Mask.Size()
	if ip4 := ipNet.IP.To4(); ip4 != nil && bits == 32 {
		v4.Insert(ip4, ones)
		return
	}
	if ip16 := ipNet.IP.To16(); ip16 != nil && bits == 128 {
		v6.Insert(ip16, ones)
	}
}
