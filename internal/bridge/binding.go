package bridge

import (
	_ "embed"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
)

//go:embed inject.js
var injectScript string

const bindingPlaceholder = "__BINDING_NAME__"

// Message types sent by the injected script.
const (
	MessageForm  = "form"
	MessageXHR   = "xhr"
	MessageFetch = "fetch"
)

// Script returns the page script that reports requests through bindingName.
// It must run before page scripts, e.g. via Page.addScriptToEvaluateOnNewDocument.
func Script(bindingName string) string {
	if bindingName == "" {
		bindingName = DefaultBindingName
	}
	return strings.ReplaceAll(injectScript, bindingPlaceholder, bindingName)
}

// HandleBinding decodes one binding payload and dispatches it to the matching
// entry point. The payload is a JSON object whose "type" selects the entry
// point; structured arguments ("fields", "headers") are JSON-encoded strings.
func (b *Bridge) HandleBinding(payload string) {
	if !gjson.Valid(payload) {
		slog.Error("bridge: binding payload is not valid JSON", "tab_id", b.tabID, "bytes", len(payload))
		return
	}
	msg := gjson.Parse(payload)
	arg := func(name string) string { return msg.Get(name).String() }

	switch typ := arg("type"); typ {
	case MessageForm:
		b.OnFormSubmit(arg("url"), arg("method"), arg("fields"), arg("headers"), arg("trace"), arg("enctype"))
	case MessageXHR:
		b.OnXhr(arg("url"), arg("method"), arg("body"), arg("headers"), arg("trace"))
	case MessageFetch:
		b.OnFetch(arg("url"), arg("method"), arg("body"), arg("headers"), arg("trace"))
	default:
		slog.Warn("bridge: unknown binding message type", "tab_id", b.tabID, "type", typ)
	}
}
