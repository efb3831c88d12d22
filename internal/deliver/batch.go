package deliver

import (
	"path"

	"github.com/pressbote/pressbote/internal/store"
)

// Upload is one physical transfer serving one or more recipients.
type Upload struct {
	Folder     string // destination folder path, year segment already applied
	Recipients []store.RecipientPreference
}

// PlanUploads partitions the upload-eligible recipients of one edition into
// the minimal set of transfers. Recipients on the publication's unmodified
// folder and organize defaults share exactly one upload; any explicit
// override, folder or organize flag, gets its own upload per recipient.
// Two recipients whose custom folders happen to coincide still cause two
// uploads; the optimizer only collapses the default group.
func PlanUploads(pub store.Publication, year string, eligible []store.RecipientPreference) []Upload {
	var defaults []store.RecipientPreference
	var custom []store.RecipientPreference
	for _, rp := range eligible {
		if usesDefaults(rp.Pref) {
			defaults = append(defaults, rp)
		} else {
			custom = append(custom, rp)
		}
	}

	var plan []Upload
	if len(defaults) > 0 {
		plan = append(plan, Upload{
			Folder:     destinationFolder(pub.Folder, pub.OrganizeByYear, year),
			Recipients: defaults,
		})
	}
	for _, rp := range custom {
		folder := Folder(&rp.Pref, &pub, "")
		organize := OrganizeByYear(&rp.Pref, &pub, false)
		plan = append(plan, Upload{
			Folder:     destinationFolder(folder, organize, year),
			Recipients: []store.RecipientPreference{rp},
		})
	}
	return plan
}

// usesDefaults reports whether a preference leaves both upload destination
// settings to the publication.
func usesDefaults(p store.Preference) bool {
	hasFolder := p.Folder != nil && *p.Folder != ""
	return !hasFolder && p.OrganizeByYear == nil
}

func destinationFolder(folder string, organize bool, year string) string {
	if organize && year != "" {
		return path.Join(folder, year)
	}
	return folder
}
