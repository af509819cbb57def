// File: internal/wire/wire.go

// Package wire defines the message envelope exchanged between the host
// process and injected page code. Frames reach the host through the
// window.__gwHostSend CDP binding; the host reaches a frame by evaluating
// window.__gwDeliver with a serialized envelope.
package wire

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binding and delivery entry points shared between the host and the
// injected capability shim.
const (
	HostBinding = "__gwHostSend"
	DeliverFunc = "__gwDeliver"
)

// MessageType discriminates envelopes on both directions of the channel.
type MessageType string

const (
	// Menu command channel.
	TypeRegisterMenuCommand   MessageType = "register-menu-command"
	TypeUnregisterMenuCommand MessageType = "unregister-menu-command"
	TypeExecuteCommand        MessageType = "execute-command"
	TypeScriptInfo            MessageType = "script-info"

	// GM value storage round trips.
	TypeStorageGet    MessageType = "storage-get"
	TypeStorageSet    MessageType = "storage-set"
	TypeStorageDelete MessageType = "storage-delete"
	TypeStorageList   MessageType = "storage-list"
	TypeStorageValue  MessageType = "storage-value"

	// GM_xmlhttpRequest relay.
	TypeXHRRequest  MessageType = "xhr-request"
	TypeXHRAbort    MessageType = "xhr-abort"
	TypeXHRResponse MessageType = "xhr-response"
	TypeXHRError    MessageType = "xhr-error"

	// One-way notifications from page code.
	TypeNotification MessageType = "notification"
	TypeSetClipboard MessageType = "set-clipboard"
	TypeOpenTab      MessageType = "open-tab"
	TypeLog          MessageType = "log"
)

// XHRRequest carries the GM_xmlhttpRequest details the host relay needs.
type XHRRequest struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Data      string            `json:"data,omitempty"`
	TimeoutMS int               `json:"timeoutMs,omitempty"`
	User      string            `json:"user,omitempty"`
	Password  string            `json:"password,omitempty"`
	Anonymous bool              `json:"anonymous,omitempty"`
}

// XHRResponse is the host's reply, shaped like the response details object
// GM_xmlhttpRequest hands to onload.
type XHRResponse struct {
	Status          int    `json:"status"`
	StatusText      string `json:"statusText"`
	ResponseHeaders string `json:"responseHeaders"`
	FinalURL        string `json:"finalUrl"`
	ResponseText    string `json:"responseText"`
}

// Notification mirrors the GM_notification options object.
type Notification struct {
	Text      string `json:"text"`
	Title     string `json:"title,omitempty"`
	Image     string `json:"image,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}

// Envelope is the single message shape on the channel. Type selects which
// optional fields are meaningful; everything else stays zero.
type Envelope struct {
	Type     MessageType `json:"type"`
	ScriptID string      `json:"scriptId,omitempty"`

	// Menu commands.
	CommandID string `json:"commandId,omitempty"`
	Name      string `json:"name,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`

	// Storage. Value is raw JSON so the host never re-interprets the
	// script's serialization. RequestID correlates request and reply.
	RequestID string              `json:"requestId,omitempty"`
	Key       string              `json:"key,omitempty"`
	Value     jsoniter.RawMessage `json:"value,omitempty"`
	Keys      []string            `json:"keys,omitempty"`

	// XHR relay.
	XHR         *XHRRequest  `json:"xhr,omitempty"`
	XHRResponse *XHRResponse `json:"xhrResponse,omitempty"`
	Error       string       `json:"error,omitempty"`

	// Notifications and misc one-ways.
	Notification *Notification `json:"notification,omitempty"`
	Text         string        `json:"text,omitempty"`
	URL          string        `json:"url,omitempty"`
	Active       bool          `json:"active,omitempty"`
	Level        string        `json:"level,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// Encode serializes an envelope for transport.
func Encode(e *Envelope) (string, error) {
	raw, err := json.MarshalToString(e)
	if err != nil {
		return "", fmt.Errorf("encoding %s envelope: %w", e.Type, err)
	}
	return raw, nil
}

// Decode parses an envelope off the wire. An empty type is rejected here;
// an unknown (but present) type is left to the dispatcher, which ignores
// it at debug level so newer page shims do not break older hosts.
func Decode(raw string) (*Envelope, error) {
	var e Envelope
	if err := json.UnmarshalFromString(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &e, nil
}

// Known reports whether the type is one this host dispatches.
func Known(t MessageType) bool {
	switch t {
	case TypeRegisterMenuCommand, TypeUnregisterMenuCommand, TypeExecuteCommand,
		TypeScriptInfo,
		TypeStorageGet, TypeStorageSet, TypeStorageDelete, TypeStorageList,
		TypeStorageValue,
		TypeXHRRequest, TypeXHRAbort, TypeXHRResponse, TypeXHRError,
		TypeNotification, TypeSetClipboard, TypeOpenTab, TypeLog:
		return true
	}
	return false
}
