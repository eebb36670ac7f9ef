package forward

import (
	"net/http"

	"github.com/jqwei/codex-relay/internal/account"
)

// Hop-by-hop headers stripped in both directions, per RFC 9110.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Inbound headers that must never leak upstream: the caller's gateway
// credentials and anything the forwarder sets itself.
var strippedRequestHeaders = append([]string{
	"Host",
	"Content-Length",
	"Authorization",
	"X-Api-Key",
	"Chatgpt-Account-Id",
}, hopByHopHeaders...)

// OutboundHeaders builds the upstream header set: the inbound headers minus
// hop-by-hop and credential headers, plus the account's auth identity and the
// CLI defaults the upstream expects.
func OutboundHeaders(inbound http.Header, acct account.Account) http.Header {
	out := make(http.Header, len(inbound)+4)
	for k, v := range inbound {
		out[k] = v
	}
	for _, h := range strippedRequestHeaders {
		out.Del(h)
	}

	out.Set("Authorization", "Bearer "+acct.AccessToken)
	if acct.UpstreamAccountID != "" {
		out.Set("Chatgpt-Account-Id", acct.UpstreamAccountID)
	}

	if out.Get("User-Agent") == "" {
		out.Set("User-Agent", defaultUserAgent)
	}
	if out.Get("Openai-Beta") == "" {
		out.Set("Openai-Beta", defaultOpenAIBeta)
	}
	if out.Get("Originator") == "" {
		out.Set("Originator", defaultOriginator)
	}

	return out
}

// StripResponseHeaders removes hop-by-hop and length headers from an upstream
// response before it is relayed. Content-Length goes too because the body may
// be rewritten on the way out.
func StripResponseHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	h.Del("Content-Length")
}
