package hdkeyring

import (
	"fmt"
	"time"
)

// PathForPayment builds the per-payment HD path extension the Payouter
// derives its spending key from: the store's HD path prefix plus two
// soft path segments taken from the payment's creation timestamp —
// integer seconds, then the sub-second nanoseconds. This gives every
// payment a stable, unique, non-guessable derivation path without a
// separate key column on the Payment row.
func PathForPayment(storeHDPath string, createdAt time.Time) string {
	seconds := createdAt.Unix()
	nanos := createdAt.Nanosecond()
	return fmt.Sprintf("%s/%d/%d", storeHDPath, seconds, nanos)
}
