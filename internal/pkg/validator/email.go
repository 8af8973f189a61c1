package validator

import (
	"errors"
	"strings"
)

var consumerDomains = []string{
	"gmail.com", "yahoo.com", "hotmail.com", "outlook.com",
	"aol.com", "icloud.com", "protonmail.com", "mail.com",
	"zoho.com", "yandex.com", "gmx.com", "live.com",
}

// ParseEmail splits an address into local part and lowercased domain.
func ParseEmail(email string) (string, string, error) {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid email format")
	}
	return parts[0], strings.ToLower(parts[1]), nil
}

func IsConsumerDomain(domain string) bool {
	domain = strings.ToLower(domain)
	for _, d := range consumerDomains {
		if domain == d {
			return true
		}
	}
	return false
}

// IsCorporateEmail accepts well-formed addresses outside the consumer
// domain list. Deterministic: no DNS lookups, so scoring stays pure.
func IsCorporateEmail(email string) error {
	_, domain, err := ParseEmail(email)
	if err != nil {
		return err
	}
	if IsConsumerDomain(domain) {
		return errors.New("consumer email domains not allowed")
	}
	return nil
}
