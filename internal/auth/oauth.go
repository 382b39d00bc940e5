package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/rideboard/internal/model"
)

// GoogleUserinfoURL is Google's OpenID Connect userinfo endpoint.
const GoogleUserinfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Identity is what a provider tells us about the person who just logged in.
type Identity struct {
	ID    string
	Realm model.Realm
	Name  string
	Email string
}

// User converts the identity into the directory record it upserts.
func (i Identity) User() model.User {
	return model.User{ID: i.ID, Realm: i.Realm, Name: i.Name, Email: i.Email}
}

// Provider runs the authorization-code flow against one identity provider
// and maps its userinfo response to an Identity.
type Provider struct {
	realm       model.Realm
	config      *oauth2.Config
	userinfoURL string
	decode      func([]byte) (*Identity, error)
}

// NewGoogleProvider configures Google login.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *Provider {
	return &Provider{
		realm: model.RealmGoogle,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoints.Google,
		},
		userinfoURL: GoogleUserinfoURL,
		decode:      decodeGoogle,
	}
}

// CSHEndpoints are the OpenID Connect URLs of the CSH SSO realm.
type CSHEndpoints struct {
	AuthURL     string
	TokenURL    string
	UserinfoURL string
}

// NewCSHProvider configures CSH login.
func NewCSHProvider(clientID, clientSecret, redirectURL string, ep CSHEndpoints) *Provider {
	return &Provider{
		realm: model.RealmCSH,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email", "house-service-oidc"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  ep.AuthURL,
				TokenURL: ep.TokenURL,
			},
		},
		userinfoURL: ep.UserinfoURL,
		decode:      decodeCSH,
	}
}

// Realm is the realm users of this provider are filed under.
func (p *Provider) Realm() model.Realm { return p.realm }

// AuthURL is where the browser is sent to log in. state is echoed back to
// the redirect handler for CSRF protection.
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a token and fetches the
// user's profile with it.
func (p *Provider) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging %s OAuth code: %w", p.realm, err)
	}

	client := p.config.Client(ctx, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building %s userinfo request: %w", p.realm, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling %s userinfo: %w", p.realm, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: %s userinfo returned status %d", p.realm, resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("auth: decoding %s userinfo: %w", p.realm, err)
	}

	id, err := p.decode(raw)
	if err != nil {
		return nil, err
	}
	id.Realm = p.realm
	return id, nil
}

func fullName(given, family string) string {
	return strings.TrimSpace(given + " " + family)
}

func decodeGoogle(data []byte) (*Identity, error) {
	var info struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("auth: decoding google userinfo: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("auth: google userinfo has no subject")
	}
	return &Identity{ID: info.Sub, Name: fullName(info.GivenName, info.FamilyName), Email: info.Email}, nil
}

// decodeCSH keys users by their LDAP entry id; the username only shows up in
// the email the pings service derives from it.
func decodeCSH(data []byte) (*Identity, error) {
	var info struct {
		LDAPID            string `json:"ldap_id"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
		GivenName         string `json:"given_name"`
		FamilyName        string `json:"family_name"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("auth: decoding csh userinfo: %w", err)
	}

	id := info.LDAPID
	if id == "" {
		id = info.PreferredUsername
	}
	if id == "" {
		return nil, fmt.Errorf("auth: csh userinfo has no ldap_id or preferred_username")
	}

	email := info.Email
	if email == "" && info.PreferredUsername != "" {
		email = info.PreferredUsername + "@csh.rit.edu"
	}
	return &Identity{ID: id, Name: fullName(info.GivenName, info.FamilyName), Email: email}, nil
}
