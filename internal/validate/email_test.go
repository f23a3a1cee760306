package validate

import (
	"errors"
	"testing"
)

func TestEmail(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"simple", "bird@wihngo.app", "bird@wihngo.app", nil},
		{"normalized", "  Supporter@Wihngo.APP  ", "supporter@wihngo.app", nil},
		{"plus tag", "claims+pi_123@wihngo.app", "claims+pi_123@wihngo.app", nil},
		{"subdomain", "ops@mail.wihngo.app", "ops@mail.wihngo.app", nil},
		{"empty", "", "", ErrEmpty},
		{"whitespace only", "   ", "", ErrEmpty},
		{"missing at", "birdwihngo.app", "", ErrInvalidEmail},
		{"missing domain", "bird@", "", ErrInvalidEmail},
		{"missing local", "@wihngo.app", "", ErrInvalidEmail},
		{"no tld dot", "bird@wihngo", "", ErrInvalidEmail},
		{"double at", "bird@@wihngo.app", "", ErrInvalidEmail},
		{"embedded space", "bi rd@wihngo.app", "", ErrInvalidEmail},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Email(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Email(%q) error = %v, want %v", tc.input, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("Email(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestEmail_LengthLimits(t *testing.T) {
	longLocal := make([]byte, 65)
	for i := range longLocal {
		longLocal[i] = 'a'
	}
	if _, err := Email(string(longLocal) + "@wihngo.app"); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("65-char local part error = %v, want ErrStringTooLong", err)
	}

	longTotal := make([]byte, 250)
	for i := range longTotal {
		longTotal[i] = 'a'
	}
	if _, err := Email(string(longTotal) + "@wihngo.app"); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("over-254-char address error = %v, want ErrStringTooLong", err)
	}
}
