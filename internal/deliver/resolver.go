package deliver

import (
	"github.com/pressbote/pressbote/internal/store"
)

// Channel is one delivery mechanism of an edition.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelUpload Channel = "upload"
)

// Effective settings follow a three-level priority: the recipient's explicit
// per-publication override wins, then the publication's own default, then the
// caller-supplied default. Every resolver is total; a missing preference or
// publication just degrades to the next level.

// EmailEnabled resolves the effective email flag.
func EmailEnabled(pref *store.Preference, pub *store.Publication, def bool) bool {
	if pref != nil && pref.EmailEnabled != nil {
		return *pref.EmailEnabled
	}
	if pub != nil {
		return pub.EmailEnabled
	}
	return def
}

// UploadEnabled resolves the effective upload flag.
func UploadEnabled(pref *store.Preference, pub *store.Publication, def bool) bool {
	if pref != nil && pref.UploadEnabled != nil {
		return *pref.UploadEnabled
	}
	if pub != nil {
		return pub.UploadEnabled
	}
	return def
}

// Folder resolves the effective destination folder. An empty override does
// not count as explicitly set.
func Folder(pref *store.Preference, pub *store.Publication, def string) string {
	if pref != nil && pref.Folder != nil && *pref.Folder != "" {
		return *pref.Folder
	}
	if pub != nil && pub.Folder != "" {
		return pub.Folder
	}
	return def
}

// OrganizeByYear resolves the effective organize-by-year flag.
func OrganizeByYear(pref *store.Preference, pub *store.Publication, def bool) bool {
	if pref != nil && pref.OrganizeByYear != nil {
		return *pref.OrganizeByYear
	}
	if pub != nil {
		return pub.OrganizeByYear
	}
	return def
}

// channelEnabled resolves the flag for the named channel.
func channelEnabled(ch Channel, pref *store.Preference, pub *store.Publication) bool {
	if ch == ChannelEmail {
		return EmailEnabled(pref, pub, false)
	}
	return UploadEnabled(pref, pub, false)
}

// EligibleRecipients returns the recipients qualifying for the channel on
// this publication: active, holding an explicit preference entry, the entry
// enabled, and the channel switched on for it. Recipients without an entry
// are excluded from every publication; eligibility is strictly opt-in.
func EligibleRecipients(db *store.DB, pub store.Publication, ch Channel) ([]store.RecipientPreference, error) {
	pairs, err := db.PreferencesForPublication(pub.ID)
	if err != nil {
		return nil, err
	}

	var eligible []store.RecipientPreference
	for _, rp := range pairs {
		if !rp.Recipient.IsActive || !rp.Pref.Enabled {
			continue
		}
		if !channelEnabled(ch, &rp.Pref, &pub) {
			continue
		}
		eligible = append(eligible, rp)
	}
	return eligible, nil
}
