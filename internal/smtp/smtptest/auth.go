package smtptest

import "encoding/base64"

// credentials is the AUTH LOGIN pair a Server accepts. Leaving either half
// empty turns AUTH off.
type credentials struct {
	user, pass string
}

func (c credentials) required() bool {
	return c.user != "" && c.pass != ""
}

// accepts reports whether the base64 answers to the two AUTH LOGIN
// challenges decode to the configured pair.
func (c credentials) accepts(user64, pass64 string) bool {
	user, err := base64.StdEncoding.DecodeString(user64)
	if err != nil {
		return false
	}
	pass, err := base64.StdEncoding.DecodeString(pass64)
	return err == nil && string(user) == c.user && string(pass) == c.pass
}
