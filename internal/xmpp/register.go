package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"
)

// registerQuery is the jabber:iq:register payload (XEP-0077). Empty child
// elements in a fetched form mark the fields the server requires.
type registerQuery struct {
	XMLName      xml.Name  `xml:"jabber:iq:register query"`
	Instructions string    `xml:"instructions,omitempty"`
	Username     *string   `xml:"username"`
	Password     *string   `xml:"password"`
	Email        *string   `xml:"email"`
	Registered   *struct{} `xml:"registered"`
	Remove       *struct{} `xml:"remove"`
}

type registerIQ struct {
	stanza.IQ
	Query registerQuery
}

// stanzaError is the subset of a stanza error the core surfaces: the defined
// condition plus the optional human-readable text.
type stanzaError struct {
	Type      string   `xml:"type,attr"`
	Text      string   `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
	Condition struct {
		XMLName xml.Name
	} `xml:",any"`
}

func (e stanzaError) toError() error {
	condition := e.Condition.XMLName.Local
	switch condition {
	case "service-unavailable", "feature-not-implemented":
		return fmt.Errorf("%w: %s", ErrRegistrationUnsupported, condition)
	}
	if e.Text != "" {
		return fmt.Errorf("server error: %s: %s", condition, e.Text)
	}
	return fmt.Errorf("server error: %s", condition)
}

// FetchRegistrationForm requests the in-band registration form from the
// server the session is connected to.
func (c *Client) FetchRegistrationForm(ctx context.Context) (*RegistrationForm, error) {
	id := newIQID()
	iq := registerIQ{
		IQ: stanza.IQ{
			ID:   id,
			To:   c.domainJID(),
			Type: stanza.GetIQ,
		},
	}

	query, err := c.roundTripIQ(ctx, id, iq)
	if err != nil {
		return nil, err
	}

	form := &RegistrationForm{Instructions: query.Instructions}
	if query.Username != nil {
		form.Fields = append(form.Fields, "username")
	}
	if query.Password != nil {
		form.Fields = append(form.Fields, "password")
	}
	if query.Email != nil {
		form.Fields = append(form.Fields, "email")
	}
	return form, nil
}

// SubmitRegistration submits the filled registration fields.
func (c *Client) SubmitRegistration(ctx context.Context, fields map[string]string) error {
	id := newIQID()
	iq := registerIQ{
		IQ: stanza.IQ{
			ID:   id,
			To:   c.domainJID(),
			Type: stanza.SetIQ,
		},
	}
	if v, ok := fields["username"]; ok {
		iq.Query.Username = &v
	}
	if v, ok := fields["password"]; ok {
		iq.Query.Password = &v
	}
	if v, ok := fields["email"]; ok {
		iq.Query.Email = &v
	}

	_, err := c.roundTripIQ(ctx, id, iq)
	return err
}

// ChangePassword changes the account password on the server (XEP-0077 §3.2).
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	username := c.localpart()
	id := newIQID()
	iq := registerIQ{
		IQ: stanza.IQ{
			ID:   id,
			To:   c.domainJID(),
			Type: stanza.SetIQ,
		},
		Query: registerQuery{
			Username: &username,
			Password: &newPassword,
		},
	}

	_, err := c.roundTripIQ(ctx, id, iq)
	return err
}

// DeleteAccount asks the server to remove the account (XEP-0077 §3.2).
func (c *Client) DeleteAccount(ctx context.Context) error {
	id := newIQID()
	iq := registerIQ{
		IQ: stanza.IQ{
			ID:   id,
			Type: stanza.SetIQ,
		},
		Query: registerQuery{
			Remove: &struct{}{},
		},
	}

	_, err := c.roundTripIQ(ctx, id, iq)
	return err
}

func (c *Client) domainJID() jid.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jid.Domain()
}

func (c *Client) localpart() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jid.Localpart()
}
