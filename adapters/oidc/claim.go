// 參考https://auth0.com/docs/get-started/apis/scopes/openid-connect-scopes
package oidc

type Email struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

type Profile struct {
	Name              string `json:"name"`
	Nickname          string `json:"nickname"`
	PreferredUsername string `json:"preferred_username"`
}

// Identity 是從 ID token 取出的使用者資料
type Identity struct {
	Subject string
	Issuer  string
	Email
	Profile
}

// Username 依序使用 preferred_username、nickname、name 以及 email
func (i Identity) Username() string {
	for _, name := range []string{i.PreferredUsername, i.Nickname, i.Name, i.Email.Email} {
		if name != "" {
			return name
		}
	}
	return i.Subject
}
