package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
)

// ValidationError carries field-level messages for the information form.
// Each field maps to a message the user can act on.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("validation failed: %s", strings.Join(keys, ", "))
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// countryRules hold the per-country syntax for phone numbers and postal
// codes. Countries outside the table accept any non-empty value.
var countryRules = map[string]struct {
	phone *regexp.Regexp
	zip   *regexp.Regexp
}{
	"cz": {
		phone: regexp.MustCompile(`^(\+420)?\s?[0-9]{3}\s?[0-9]{3}\s?[0-9]{3}$`),
		zip:   regexp.MustCompile(`^[0-9]{3}\s?[0-9]{2}$`),
	},
	"sk": {
		phone: regexp.MustCompile(`^(\+421)?\s?[0-9]{3}\s?[0-9]{3}\s?[0-9]{3}$`),
		zip:   regexp.MustCompile(`^[0-9]{3}\s?[0-9]{2}$`),
	},
	"pl": {
		phone: regexp.MustCompile(`^(\+48)?\s?[0-9]{3}\s?[0-9]{3}\s?[0-9]{3}$`),
		zip:   regexp.MustCompile(`^[0-9]{2}-[0-9]{3}$`),
	},
}

// contactSanitizer strips any markup smuggled into free-text fields before
// they reach the payment collaborator.
var contactSanitizer = bluemonday.StrictPolicy()

// sanitizeContact trims and strips markup from every free-text field.
func sanitizeContact(c ContactInfo) ContactInfo {
	clean := func(v string) string {
		return strings.TrimSpace(contactSanitizer.Sanitize(v))
	}
	c.Email = strings.TrimSpace(c.Email)
	c.FirstName = clean(c.FirstName)
	c.LastName = clean(c.LastName)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Street = clean(c.Street)
	c.City = clean(c.City)
	c.Zip = strings.TrimSpace(c.Zip)
	return c
}

// validateCountry reports whether the value is a known ISO region code.
func validateCountry(country string) bool {
	country = strings.TrimSpace(country)
	if country == "" {
		return false
	}
	_, err := language.ParseRegion(country)
	return err == nil
}

// validateContact checks the information-stage form against the selected
// country and returns nil or a field-keyed ValidationError.
func validateContact(c ContactInfo, country string) *ValidationError {
	fields := make(map[string]string)

	required := map[string]string{
		"email":     c.Email,
		"firstName": c.FirstName,
		"lastName":  c.LastName,
		"phone":     c.Phone,
		"street":    c.Street,
		"city":      c.City,
		"zip":       c.Zip,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			fields[name] = "required"
		}
	}
	if !validateCountry(country) {
		fields["country"] = "select a country"
	}

	if c.Email != "" && !emailPattern.MatchString(c.Email) {
		fields["email"] = "invalid email address"
	}
	if rules, ok := countryRules[strings.ToLower(strings.TrimSpace(country))]; ok {
		if c.Phone != "" && !rules.phone.MatchString(c.Phone) {
			fields["phone"] = "invalid phone number for the selected country"
		}
		if c.Zip != "" && !rules.zip.MatchString(c.Zip) {
			fields["zip"] = "invalid postal code for the selected country"
		}
	}

	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
