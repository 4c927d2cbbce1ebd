package protocol

import (
	"fmt"
	"strconv"

	"github.com/loadfabric/loadfabric/internal/wire"
)

// AuthCredentials carries the optional auth block nested inside Client-Hello
// and Server-Hello (spec.md §3 Client-Hello `auth?: {type, id, credentials}`).
type AuthCredentials struct {
	Type        AuthType
	ID          string
	Credentials []byte
}

func (a AuthCredentials) encode() wire.Element {
	return wire.NewComposite(wire.UniversalComposite(wire.TypeSequence),
		wire.NewEnum(int64(a.Type)),
		wire.NewOctets([]byte(a.ID)),
		wire.NewOctets(a.Credentials),
	)
}

func decodeAuth(el wire.Element) (AuthCredentials, error) {
	if len(el.Children) != 3 {
		return AuthCredentials{}, fmt.Errorf("protocol: auth block must have 3 fields, got %d", len(el.Children))
	}
	t, err := el.Children[0].Int()
	if err != nil {
		return AuthCredentials{}, fmt.Errorf("protocol: auth type: %w", err)
	}
	return AuthCredentials{
		Type:        AuthType(t),
		ID:          el.Children[1].String(),
		Credentials: el.Children[2].Octets(),
	}, nil
}

// ClientHello is the dialer's opening message (spec.md §3, §4.4 step 1).
// Optional fields use positional presence: the composite may carry 2–6
// children and interpretation is determined by arity (spec.md §4.2).
type ClientHello struct {
	ClientVersion     string
	ClientID          string
	Auth              *AuthCredentials
	RequestServerAuth bool
	RestrictedMode    bool
	SupportsTimeSync  bool
}

func (m ClientHello) Tag() byte { return wire.TagClientHello }

func (m ClientHello) Validate() error {
	if m.ClientVersion == "" {
		return fmt.Errorf("protocol: ClientHello.ClientVersion must not be empty")
	}
	if m.ClientID == "" {
		return fmt.Errorf("protocol: ClientHello.ClientID must not be empty")
	}
	return nil
}

func (m ClientHello) Encode() wire.Element {
	children := []wire.Element{
		wire.NewOctets([]byte(m.ClientVersion)),
		wire.NewOctets([]byte(m.ClientID)),
	}
	if m.Auth != nil {
		children = append(children, m.Auth.encode())
	} else {
		children = append(children, wire.NewNull())
	}
	children = append(children,
		wire.NewBoolean(m.RequestServerAuth),
		wire.NewBoolean(m.RestrictedMode),
		wire.NewBoolean(m.SupportsTimeSync),
	)
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), children...)
}

func decodeClientHello(el wire.Element) (ClientHello, error) {
	n := len(el.Children)
	if n < 2 || n > 6 {
		return ClientHello{}, fmt.Errorf("protocol: ClientHello arity %d out of range [2,6]", n)
	}
	m := ClientHello{
		ClientVersion: el.Children[0].String(),
		ClientID:      el.Children[1].String(),
	}
	if n >= 3 && el.Children[2].Tag.Number != wire.TypeNull {
		auth, err := decodeAuth(el.Children[2])
		if err != nil {
			return ClientHello{}, err
		}
		m.Auth = &auth
	}
	if n >= 4 {
		m.RequestServerAuth = el.Children[3].Bool()
	}
	if n >= 5 {
		m.RestrictedMode = el.Children[4].Bool()
	}
	if n >= 6 {
		m.SupportsTimeSync = el.Children[5].Bool()
	}
	return m, nil
}

// ServerHello is the listener's reply identity (spec.md §3 Server-Hello).
type ServerHello struct {
	ServerVersion string
	ServerID      string
	Auth          *AuthCredentials
}

func (m ServerHello) Tag() byte { return wire.TagServerHello }

func (m ServerHello) Validate() error {
	if m.ServerVersion == "" {
		return fmt.Errorf("protocol: ServerHello.ServerVersion must not be empty")
	}
	return nil
}

func (m ServerHello) Encode() wire.Element {
	children := []wire.Element{
		wire.NewOctets([]byte(m.ServerVersion)),
		wire.NewOctets([]byte(m.ServerID)),
	}
	if m.Auth != nil {
		children = append(children, m.Auth.encode())
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), children...)
}

func decodeServerHello(el wire.Element) (ServerHello, error) {
	n := len(el.Children)
	if n < 2 || n > 3 {
		return ServerHello{}, fmt.Errorf("protocol: ServerHello arity %d out of range [2,3]", n)
	}
	m := ServerHello{ServerVersion: el.Children[0].String(), ServerID: el.Children[1].String()}
	if n == 3 {
		auth, err := decodeAuth(el.Children[2])
		if err != nil {
			return ServerHello{}, err
		}
		m.Auth = &auth
	}
	return m, nil
}

// HelloResponse answers a Client-Hello/Server-Hello (spec.md §3, §4.4
// step 2). ServerEpochMillis is only present when the dialer requested time
// sync; per spec.md §9's second open question it is carried as the decimal
// ASCII text of the epoch milliseconds, not a raw integer TLV, to preserve
// wire compatibility with the source behavior this was distilled from.
type HelloResponse struct {
	ResponseCode      ResponseCode
	Message           string
	ServerEpochMillis *int64
}

func (m HelloResponse) Tag() byte { return wire.TagHelloResponse }

func (m HelloResponse) Validate() error { return nil }

func (m HelloResponse) Encode() wire.Element {
	children := []wire.Element{
		wire.NewEnum(int64(m.ResponseCode)),
		wire.NewOctets([]byte(m.Message)),
	}
	if m.ServerEpochMillis != nil {
		children = append(children, wire.NewOctets([]byte(strconv.FormatInt(*m.ServerEpochMillis, 10))))
	}
	return wire.NewComposite(wire.ApplicationTag(m.Tag()), children...)
}

func decodeHelloResponse(el wire.Element) (HelloResponse, error) {
	n := len(el.Children)
	if n < 2 || n > 3 {
		return HelloResponse{}, fmt.Errorf("protocol: HelloResponse arity %d out of range [2,3]", n)
	}
	code, err := el.Children[0].Int()
	if err != nil {
		return HelloResponse{}, fmt.Errorf("protocol: HelloResponse responseCode: %w", err)
	}
	m := HelloResponse{ResponseCode: ResponseCode(code), Message: el.Children[1].String()}
	if n == 3 {
		v, err := strconv.ParseInt(el.Children[2].String(), 10, 64)
		if err != nil {
			return HelloResponse{}, fmt.Errorf("protocol: HelloResponse serverEpochMillis: %w", err)
		}
		m.ServerEpochMillis = &v
	}
	return m, nil
}
