package auth

import "testing"

func TestValidatePasswordRejectsWeakPasswords(t *testing.T) {
	cases := []string{
		"short1!",       // too short
		"alllowercase1!", // no uppercase
		"ALLUPPERCASE1!", // no lowercase
		"NoDigitsHere!",  // no number
		"NoSpecial123",   // no special character
		"Password1!",     // common base word
		"Aaabbbccc1!",    // excessive repeats
		"Abcdef123!",     // sequential run
	}
	for _, p := range cases {
		if err := ValidatePassword(p); err == nil {
			t.Errorf("ValidatePassword(%q) should have failed", p)
		}
	}
}

func TestValidatePasswordAcceptsStrongPassword(t *testing.T) {
	if err := ValidatePassword("Tr0ub4dor&3xQ"); err != nil {
		t.Errorf("ValidatePassword should accept a strong password: %v", err)
	}
}
