package controller

import (
	"strconv"
	"strings"

	"github.com/ghermez/ariabridge/internal/rpc"
	"github.com/ghermez/ariabridge/internal/speedlimit"
)

const maxDownloadLimit = speedlimit.OptionKey

// Fixed addUri options applied to every new download.
const (
	defaultSplit        = "16"
	defaultMinSplitSize = "1M"
)

// AddOptions are the per-download settings accepted by Add. Empty fields
// are not sent.
type AddOptions struct {
	Dir           string   `json:"dir,omitempty"`
	Out           string   `json:"out,omitempty"`
	Headers       []string `json:"headers,omitempty"` // "Name: value"
	Cookies       string   `json:"cookies,omitempty"` // Sent as a Cookie header
	UserAgent     string   `json:"user_agent,omitempty"`
	Referer       string   `json:"referer,omitempty"`
	Connections   int      `json:"connections,omitempty"` // max-connection-per-server
	Limit         string   `json:"limit,omitempty"`       // e.g. "5M", "100K", "0"
	Proxy         string   `json:"proxy,omitempty"`       // host:port
	ProxyUser     string   `json:"proxy_user,omitempty"`
	ProxyPassword string   `json:"proxy_password,omitempty"`
	HTTPUser      string   `json:"http_user,omitempty"`
	HTTPPassword  string   `json:"http_password,omitempty"`
}

// rpcOptions converts the settings into aria2 options and headers.
func (o AddOptions) rpcOptions() (rpc.Options, []string, error) {
	opts := rpc.Options{
		"split":          defaultSplit,
		"min-split-size": defaultMinSplitSize,
		"continue":       "true",
	}

	set := func(key, value string) {
		if value = strings.TrimSpace(value); value != "" {
			opts[key] = value
		}
	}
	set("dir", o.Dir)
	set("out", o.Out)
	set("user-agent", o.UserAgent)
	set("referer", o.Referer)
	set("all-proxy", o.Proxy)
	set("all-proxy-user", o.ProxyUser)
	set("all-proxy-passwd", o.ProxyPassword)
	set("http-user", o.HTTPUser)
	set("http-passwd", o.HTTPPassword)

	if o.Connections > 0 {
		opts["max-connection-per-server"] = strconv.Itoa(o.Connections)
	}

	if o.Limit != "" {
		limit, err := speedlimit.Normalize(o.Limit)
		if err != nil {
			return nil, nil, err
		}
		opts[maxDownloadLimit] = limit
	}

	var headers []string
	if o.Cookies != "" {
		headers = append(headers, "Cookie: "+o.Cookies)
	}
	for _, h := range o.Headers {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, h)
		}
	}

	return opts, headers, nil
}
