package notify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Endpoint is a configured outbound webhook receiver.
type Endpoint struct {
	Name   string
	URL    string
	Secret string
	// Topics lists subscribed topics; empty subscribes to everything.
	Topics []string
}

// Subscribed reports whether the endpoint wants events on topic.
func (e Endpoint) Subscribed(topic string) bool {
	if len(e.Topics) == 0 {
		return true
	}
	for _, t := range e.Topics {
		if t == topic || t == "*" {
			return true
		}
	}
	return false
}

// ParseEndpoints reads the NOTIFY_ENDPOINTS format:
//
//	name|url|secret|topic1,topic2;name2|url2|secret2
func ParseEndpoints(raw string) ([]Endpoint, error) {
	var out []Endpoint
	seen := make(map[string]struct{})
	for _, chunk := range strings.Split(raw, ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		parts := strings.Split(chunk, "|")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("notify: endpoint %q must be name|url|secret[|topics]", chunk)
		}
		ep := Endpoint{
			Name:   strings.TrimSpace(parts[0]),
			URL:    strings.TrimSpace(parts[1]),
			Secret: strings.TrimSpace(parts[2]),
		}
		if ep.Name == "" || ep.Secret == "" {
			return nil, fmt.Errorf("notify: endpoint %q requires a name and secret", chunk)
		}
		if _, dup := seen[ep.Name]; dup {
			return nil, fmt.Errorf("notify: duplicate endpoint name %q", ep.Name)
		}
		if err := validateURL(ep.URL); err != nil {
			return nil, fmt.Errorf("notify: endpoint %s: %w", ep.Name, err)
		}
		if len(parts) == 4 {
			for _, topic := range strings.Split(parts[3], ",") {
				if topic = strings.TrimSpace(topic); topic != "" {
					ep.Topics = append(ep.Topics, topic)
				}
			}
		}
		seen[ep.Name] = struct{}{}
		out = append(out, ep)
	}
	return out, nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("webhook url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	}
	return nil
}
