package lokiclient

import "net/http"

// authProvider decorates outgoing requests with credentials.
type authProvider interface {
	apply(req *http.Request)
}

type noAuth struct{}

func (noAuth) apply(*http.Request) {}

type basicAuth struct {
	username string
	password string
}

func (a basicAuth) apply(req *http.Request) {
	req.SetBasicAuth(a.username, a.password)
}

type bearerAuth struct {
	token string
}

func (a bearerAuth) apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.token)
}

// authFromConfig assumes cfg has already been validated.
func authFromConfig(cfg Config) authProvider {
	switch cfg.AuthType {
	case AuthTypeBasic:
		return basicAuth{username: cfg.Username, password: cfg.Password}
	case AuthTypeBearer:
		return bearerAuth{token: cfg.Token}
	default:
		return noAuth{}
	}
}
