package domain

import (
	"time"

	"github.com/meridianhq/stepup/pkg/idx"
)

// TOTPEnrollmentDraft holds the secret material issued by enroll-begin until
// the user activates or abandons it. It exists only in memory: the secret and
// backup codes are shown to the user from here, never written anywhere.
type TOTPEnrollmentDraft struct {
	DraftID       idx.ID
	Secret        string   // base32 TOTP secret
	EnrollmentURI string   // otpauth:// provisioning URI for QR display
	BackupCodes   []string // single-use recovery codes, shown once per draft
	CreatedAt     time.Time

	wiped bool
}

// Wipe destroys the draft's secret material. Called on activation success,
// cancellation, or attempt teardown. A wiped draft cannot be activated.
func (d *TOTPEnrollmentDraft) Wipe() {
	d.Secret = ""
	d.EnrollmentURI = ""
	for i := range d.BackupCodes {
		d.BackupCodes[i] = ""
	}
	d.BackupCodes = nil
	d.wiped = true
}

// Wiped reports whether the draft's secret material has been destroyed.
func (d *TOTPEnrollmentDraft) Wiped() bool { return d.wiped }
