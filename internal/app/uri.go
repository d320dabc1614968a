package app

import (
	"strings"

	"mellium.im/xmpp/jid"
)

// LoginURIResult specifies how an XMPP login URI was used.
type LoginURIResult int

const (
	// LoginURIInvalid: the URI does not match the login URI shape.
	LoginURIInvalid LoginURIResult = iota
	// LoginURIPasswordNeeded: an address was extracted but the password
	// is missing or empty.
	LoginURIPasswordNeeded
	// LoginURIConnecting: address and password were extracted and a login
	// was attempted.
	LoginURIConnecting
)

// String returns the result name.
func (r LoginURIResult) String() string {
	switch r {
	case LoginURIInvalid:
		return "invalid login URI"
	case LoginURIPasswordNeeded:
		return "password needed"
	case LoginURIConnecting:
		return "connecting"
	default:
		return "unknown"
	}
}

// ParseLoginURI parses a login URI of the shape
//
//	xmpp:<address>?login[;password=<value>]
//
// It is pure: it never mutates state. URIs whose query lacks the "login"
// action are rejected, including the bare "xmpp:<address>" form.
func ParseLoginURI(uri string) (result LoginURIResult, address, password string) {
	rest, ok := strings.CutPrefix(uri, "xmpp:")
	if !ok {
		return LoginURIInvalid, "", ""
	}

	address, query, hasQuery := strings.Cut(rest, "?")
	if !hasQuery {
		return LoginURIInvalid, "", ""
	}

	j, err := jid.Parse(address)
	if err != nil || j.Localpart() == "" || j.Resourcepart() != "" {
		return LoginURIInvalid, "", ""
	}
	address = j.Bare().String()

	action, params, _ := strings.Cut(query, ";")
	if action != "login" {
		return LoginURIInvalid, "", ""
	}

	for params != "" {
		var param string
		param, params, _ = strings.Cut(params, ";")
		key, value, _ := strings.Cut(param, "=")
		if key == "password" && value != "" {
			return LoginURIConnecting, address, value
		}
	}

	return LoginURIPasswordNeeded, address, ""
}
