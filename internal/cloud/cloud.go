// Package cloud describes the cloud backends clusters run on.
package cloud

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Provider identifies a cloud backend.
type Provider string

const (
	ProviderAWS          Provider = "aws"
	ProviderDigitalOcean Provider = "digitalocean"
	ProviderScaleway     Provider = "scaleway"
	ProviderGCP          Provider = "gcp"
	ProviderOnPremise    Provider = "on-premise"
)

var defaultStorageClasses = map[Provider]string{
	ProviderAWS:          "gp2",
	ProviderDigitalOcean: "do-block-storage",
	ProviderScaleway:     "scw-sbv-ssd-0",
	ProviderGCP:          "standard-rwo",
}

// ParseProvider converts text into a Provider.
func ParseProvider(value string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(value)))
	switch p {
	case ProviderAWS, ProviderDigitalOcean, ProviderScaleway, ProviderGCP, ProviderOnPremise:
		return p, nil
	case "do":
		return ProviderDigitalOcean, nil
	case "scw":
		return ProviderScaleway, nil
	default:
		return "", fmt.Errorf("unknown cloud provider %q", value)
	}
}

// DefaultStorageClass returns the storage class managed clusters use when none is configured.
// On-premise clusters have no default.
func (p Provider) DefaultStorageClass() string {
	return defaultStorageClasses[p]
}

// Credential is a single environment variable handed to external tools.
type Credential struct {
	Name  string
	Value string
}

// Credentials is the set of environment variables tools need to reach a cluster's provider.
type Credentials []Credential

// CredentialsFromEnv reads the named variables from the process environment. Missing variables are
// reported together.
func CredentialsFromEnv(names []string) (Credentials, error) {
	return credentialsFrom(names, os.LookupEnv)
}

func credentialsFrom(names []string, lookup func(string) (string, bool)) (Credentials, error) {
	creds := make(Credentials, 0, len(names))
	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		value, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		creds = append(creds, Credential{Name: name, Value: value})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing credential variables: %s", strings.Join(missing, ", "))
	}
	return creds, nil
}

// Environ renders the credentials as KEY=VALUE pairs for exec.Cmd.Env.
func (c Credentials) Environ() []string {
	out := make([]string, 0, len(c))
	for _, cred := range c {
		out = append(out, cred.Name+"="+cred.Value)
	}
	return out
}

// Map returns the credentials keyed by variable name.
func (c Credentials) Map() map[string]string {
	out := make(map[string]string, len(c))
	for _, cred := range c {
		out[cred.Name] = cred.Value
	}
	return out
}

// Names lists the variable names without their values.
func (c Credentials) Names() []string {
	out := make([]string, 0, len(c))
	for _, cred := range c {
		out = append(out, cred.Name)
	}
	return out
}

// String redacts every value.
func (c Credentials) String() string {
	parts := make([]string, 0, len(c))
	for _, cred := range c {
		parts = append(parts, cred.Name+"=***")
	}
	return "[" + strings.Join(parts, " ") + "]"
}
