package utils

import (
	"fmt"

	"github.com/mssola/useragent"
)

// NormalizeUserAgent reduces a Mozilla-style user agent to its stable parts
// so log lines stay comparable across minor browser updates. Anything else
// passes through untouched.
func NormalizeUserAgent(inputUA string) string {
	if len(inputUA) < 8 || inputUA[:8] != "Mozilla/" {
		return inputUA
	}

	ua := useragent.New(inputUA)

	engine, engineVersion := ua.Engine()
	browser, browserVersion := ua.Browser()

	return fmt.Sprintf("Mozilla:%v,Platform:%v,OS:%v,Engine:%v,EngineVersion:%v,Browser:%v,BrowserVersion:%v",
		ua.Mozilla(), ua.Platform(), ua.OS(), engine, engineVersion, browser, browserVersion)
}
