package station

import (
	"sort"
	"strings"
	"time"

	"github.com/xelth-com/mixstationgo/internal/models"
)

// ItemResolver turns a scanner barcode into an item code. The production
// resolver is backed by the ERP-synced catalog cache.
type ItemResolver interface {
	Resolve(barcode string) (itemCode, name string, err error)
}

// Validator checks scans against the session's bill of materials. It is
// stateless; all bookkeeping lives on the session's scan history.
type Validator struct {
	resolver ItemResolver
}

// NewValidator builds a validator over the given resolver.
func NewValidator(resolver ItemResolver) *Validator {
	return &Validator{resolver: resolver}
}

// Prescan validates a pre-run staging scan and appends the attempt to the
// session's history, accepted or rejected. Returns the recorded event and
// the validation error, if any.
func (v *Validator) Prescan(sess *models.Session, barcode string) (*models.ScanEvent, error) {
	return v.validate(sess, barcode, models.PhasePrescan)
}

// Scan validates a run-time consumption scan. The caller guarantees the
// session is in Running; the quantity rules are the same as prescan but
// counted against run-phase history.
func (v *Validator) Scan(sess *models.Session, barcode string) (*models.ScanEvent, error) {
	return v.validate(sess, barcode, models.PhaseRun)
}

func (v *Validator) validate(sess *models.Session, barcode, phase string) (*models.ScanEvent, error) {
	barcode = strings.TrimSpace(barcode)
	event := models.ScanEvent{
		SessionID: sess.ID,
		Barcode:   barcode,
		Phase:     phase,
		CreatedAt: time.Now().UTC(),
	}

	code, _, err := v.resolver.Resolve(barcode)
	if err != nil {
		event.Reason = "unresolvable barcode"
		sess.Scans = append(sess.Scans, event)
		return &sess.Scans[len(sess.Scans)-1], NewUnknownItem(barcode, "barcode does not resolve to a known item")
	}
	event.ItemCode = &code

	required := sess.Workorder.RequiredQuantities()
	req, inBOM := required[code]
	if !inBOM {
		event.Reason = "item not in bill of materials"
		sess.Scans = append(sess.Scans, event)
		return &sess.Scans[len(sess.Scans)-1], NewUnknownItem(barcode, "item "+code+" does not belong to this workorder")
	}

	if accepted(sess, phase)[code] >= req {
		event.Reason = "required quantity already satisfied"
		sess.Scans = append(sess.Scans, event)
		return &sess.Scans[len(sess.Scans)-1], NewDuplicateOrExcess(barcode, code, req)
	}

	event.Accepted = true
	sess.Scans = append(sess.Scans, event)
	return &sess.Scans[len(sess.Scans)-1], nil
}

// ConfirmPrescan succeeds iff every BOM line has at least one accepted
// prescan event; otherwise it fails listing the missing item codes.
func (v *Validator) ConfirmPrescan(sess *models.Session) error {
	coverage := accepted(sess, models.PhasePrescan)
	var missing []string
	for code := range sess.Workorder.RequiredQuantities() {
		if coverage[code] == 0 {
			missing = append(missing, code)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return NewIncompletePrescan(missing)
	}
	return nil
}

// MissingRunItems lists BOM lines not yet fully consumed at run time,
// for the status snapshot.
func MissingRunItems(sess *models.Session) []string {
	coverage := accepted(sess, models.PhaseRun)
	var missing []string
	for code, req := range sess.Workorder.RequiredQuantities() {
		if coverage[code] < req {
			missing = append(missing, code)
		}
	}
	sort.Strings(missing)
	return missing
}

// accepted counts accepted scans per item code for one phase.
func accepted(sess *models.Session, phase string) map[string]int {
	counts := make(map[string]int)
	for _, ev := range sess.Scans {
		if ev.Accepted && ev.Phase == phase && ev.ItemCode != nil {
			counts[*ev.ItemCode]++
		}
	}
	return counts
}
