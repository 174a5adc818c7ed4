package account

import "strings"

// Profile is the stable identity of an authenticated account. PhoneNumber is
// the sole reconciliation key; display names are neither unique nor stable.
type Profile struct {
	UserID      string
	DisplayName string
	PhoneNumber string
}

// NormalizePhone collapses the international prefix to the local trunk form
// so that numbers compare equal regardless of how the identity endpoint
// formats them.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+84") {
		return "0" + phone[len("+84"):]
	}
	return phone
}
