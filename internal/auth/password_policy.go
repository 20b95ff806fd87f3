package auth

import (
	"math"
	"strings"
	"unicode"

	"github.com/lhbill/assppweb/internal/apperr"
)

// minPasswordEntropyBits is the entropy-estimate floor ValidatePassword
// enforces, adapted from the teacher's pkg/common/validation password
// policy: enough to resist casual brute force without demanding a
// password manager.
const minPasswordEntropyBits = 40

// ValidatePassword enforces the password policy Setup and
// ChangePassword apply before hashing: length bounds, character
// variety, a common-password blacklist (matched against the whole
// password and against it with trailing digits and symbols removed,
// case-insensitively), and pattern checks, adapted
// from the teacher's Validator.ValidatePassword.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return apperr.BadRequest("password must be at least 8 characters long")
	}
	if len(password) > 128 {
		return apperr.BadRequest("password too long (max 128 characters)")
	}
	if strings.Contains(password, "\x00") {
		return apperr.BadRequest("password contains null bytes")
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsNumber(c):
			hasNumber = true
		case !unicode.IsLetter(c) && !unicode.IsNumber(c):
			hasSpecial = true
		}
	}
	switch {
	case !hasUpper:
		return apperr.BadRequest("password must contain at least one uppercase letter")
	case !hasLower:
		return apperr.BadRequest("password must contain at least one lowercase letter")
	case !hasNumber:
		return apperr.BadRequest("password must contain at least one number")
	case !hasSpecial:
		return apperr.BadRequest("password must contain at least one special character")
	}

	lower := strings.ToLower(password)
	base := strings.TrimRightFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) })
	if commonPasswords[lower] || commonPasswords[base] {
		return apperr.BadRequest("password is too common, choose a more unique password")
	}
	if passwordEntropyBits(password) < minPasswordEntropyBits {
		return apperr.BadRequest("password is too predictable, use a more complex password")
	}
	if hasExcessiveRepeats(password) {
		return apperr.BadRequest("password contains too many repeated characters")
	}
	if hasSequentialRun(password) {
		return apperr.BadRequest("password contains a sequential or keyboard-walk pattern")
	}

	return nil
}

// passwordEntropyBits estimates entropy assuming uniform selection from
// the character categories actually used, per-char log2(charset size).
func passwordEntropyBits(password string) float64 {
	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsDigit(c):
			hasDigit = true
		case !unicode.IsLetter(c) && !unicode.IsNumber(c):
			hasSpecial = true
		}
	}
	var charsetSize int
	if hasLower {
		charsetSize += 26
	}
	if hasUpper {
		charsetSize += 26
	}
	if hasDigit {
		charsetSize += 10
	}
	if hasSpecial {
		charsetSize += 32
	}
	if charsetSize == 0 {
		return 0
	}
	return float64(len(password)) * math.Log2(float64(charsetSize))
}

func hasExcessiveRepeats(password string) bool {
	if len(password) < 3 {
		return false
	}
	run := 1
	for i := 1; i < len(password); i++ {
		if password[i] == password[i-1] {
			run++
			if run >= 3 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

var sequentialPatterns = []string{
	"123", "234", "345", "456", "567", "678", "789", "890",
	"098", "987", "876", "765", "654", "543", "432", "321", "210",
	"abc", "bcd", "cde", "def", "efg", "fgh", "ghi", "hij", "ijk",
	"jkl", "klm", "lmn", "mno", "nop", "opq", "pqr", "qrs", "rst",
	"stu", "tuv", "uvw", "vwx", "wxy", "xyz",
	"zyx", "yxw", "xwv", "wvu", "vut", "uts", "tsr", "srq", "rqp",
	"qpo", "pon", "onm", "nml", "mlk", "lkj", "kji", "jih", "ihg",
	"hgf", "gfe", "fed", "edc", "dcb", "cba",
	"qwerty", "asdf", "zxcv", "qazwsx", "qwertyuiop",
}

func hasSequentialRun(password string) bool {
	if len(password) < 3 {
		return false
	}
	lower := strings.ToLower(password)
	for _, seq := range sequentialPatterns {
		if strings.Contains(lower, seq) {
			return true
		}
	}
	return false
}

// commonPasswords is the teacher's top-breached-passwords blacklist.
var commonPasswords = map[string]bool{
	"password": true, "123456": true, "password123": true, "12345678": true,
	"qwerty": true, "abc123": true, "123456789": true, "111111": true,
	"1234567": true, "iloveyou": true, "adobe123": true, "welcome": true,
	"admin": true, "letmein": true, "monkey": true, "1234567890": true,
	"photoshop": true, "1234": true, "sunshine": true, "12345": true,
	"password1": true, "princess": true, "azerty": true, "trustno1": true,
	"000000": true, "access": true, "baseball": true, "batman": true,
	"dragon": true, "football": true, "freedom": true, "hello": true,
	"login": true, "master": true, "michael": true, "mustang": true,
	"ninja": true, "passw0rd": true, "password2": true, "qazwsx": true,
	"qwertyuiop": true, "shadow": true, "superman": true, "welcome123": true,
	"zaq1zaq1": true, "1q2w3e4r": true, "1qaz2wsx": true, "aa123456": true,
	"donald": true, "hottie": true, "loveme": true, "whatever": true,
	"666666": true, "7777777": true, "888888": true, "987654321": true,
	"jordan": true, "michelle": true, "nicole": true, "hunter": true,
	"test": true, "test123": true, "testing": true, "changeme": true,
	"summer": true, "winter": true, "spring": true, "autumn": true,
	"secret": true, "god": true, "love": true, "hello123": true,
	"123": true, "1111": true, "12341234": true, "123123": true,
	"guest": true, "default": true, "user": true, "demo": true,
	"oracle": true, "root": true, "toor": true, "pass": true,
	"mysql": true, "web": true, "cisco": true, "internet": true,
	"administrator": true, "adminadmin": true, "system": true, "server": true,
	"computer": true, "test1234": true, "database": true, "security": true,
	"finance": true, "sales": true, "support": true, "development": true,
}
