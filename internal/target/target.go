package target

import "strings"

// Spec names one probe destination. Host may be a hostname or a literal
// address; Name falls back to the host when the token carries no alias.
type Spec struct {
	Name string
	Host string
}

// Parse expands a comma-separated target list such as
// "GoogleDNS=8.8.8.8,Cloudflare=1.1.1.1,example.org" into ordered specs.
// Tokens split on the first "=" only, so IPv6 hosts with aliases survive.
// A blank list yields a single default target. Duplicate names are kept;
// they are probed and logged independently.
func Parse(list, defaultHost string) []Spec {
	var specs []Spec
	for _, token := range strings.Split(list, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		name, host, aliased := strings.Cut(token, "=")
		if !aliased {
			specs = append(specs, Spec{Name: token, Host: token})
			continue
		}
		name = strings.TrimSpace(name)
		host = strings.TrimSpace(host)
		if name == "" {
			name = host
		}
		specs = append(specs, Spec{Name: name, Host: host})
	}
	if len(specs) == 0 {
		specs = append(specs, Spec{Name: defaultHost, Host: defaultHost})
	}
	return specs
}
