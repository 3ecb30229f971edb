package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/emrgen/salesdb/internal/apperr"
	"github.com/emrgen/salesdb/internal/metrics"
	"github.com/emrgen/salesdb/internal/model"
	"github.com/emrgen/salesdb/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	minPhoneDigits     = 10
	minNameLength      = 3
	nameMatchThreshold = 0.6
	maxMatches         = 5
)

const (
	MatchPhone = "phone"
	MatchEmail = "email"
	MatchName  = "name"
)

// Candidate holds the identifying details of a sale about to be created.
type Candidate struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Match is one existing sale resembling the candidate. Contact is only
// filled in for admins and the agent owning the matched sale.
type Match struct {
	SaleID     string           `json:"saleId"`
	MatchType  string           `json:"matchType"`
	Confidence model.Confidence `json:"confidence"`
	Similarity float64          `json:"similarity"`
	Contact    *model.Contact   `json:"contact,omitempty"`
}

// DuplicateResult is the outcome of one duplicate check.
type DuplicateResult struct {
	HasDuplicate bool             `json:"hasDuplicate"`
	Confidence   model.Confidence `json:"confidence,omitempty"`
	MatchCount   int              `json:"matchCount"`
	Matches      []Match          `json:"matches"`
}

// DuplicateService finds existing sales resembling a candidate by phone,
// email or name.
type DuplicateService struct {
	store   store.Store
	region  string
	metrics *metrics.Metrics
	now     func() time.Time
}

type DuplicateOption func(*DuplicateService)

func WithPhoneRegion(region string) DuplicateOption {
	return func(d *DuplicateService) { d.region = region }
}

func WithDuplicateMetrics(m *metrics.Metrics) DuplicateOption {
	return func(d *DuplicateService) { d.metrics = m }
}

func WithDuplicateClock(now func() time.Time) DuplicateOption {
	return func(d *DuplicateService) { d.now = now }
}

func NewDuplicateService(st store.Store, opts ...DuplicateOption) *DuplicateService {
	d := &DuplicateService{store: st, region: DefaultPhoneRegion, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName lowercases, trims and collapses internal whitespace.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordsMatch(a, b string) bool {
	if a == b {
		return true
	}

	return len(a) > 2 && len(b) > 2 && (strings.Contains(a, b) || strings.Contains(b, a))
}

// NameSimilarity is the share of words in a with a matching word in b,
// divided by the longer word count. Both names are expected normalized.
func NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	wa, wb := strings.Fields(a), strings.Fields(b)
	matched := 0
	for _, x := range wa {
		for _, y := range wb {
			if wordsMatch(x, y) {
				matched++
				break
			}
		}
	}

	return float64(matched) / float64(max(len(wa), len(wb)))
}

func nameConfidence(similarity float64) model.Confidence {
	switch {
	case similarity >= 0.9:
		return model.ConfidenceHigh
	case similarity >= 0.75:
		return model.ConfidenceMedium
	}

	return model.ConfidenceLow
}

// Check compares the candidate against every stored sale. Phone and email
// matches are HIGH; name matches are tiered by similarity. Any authenticated
// principal may check.
func (d *DuplicateService) Check(ctx context.Context, c Candidate) (res *DuplicateResult, err error) {
	const op = "checkDuplicate"
	start := time.Now()
	ctx, span := tracer.Start(ctx, "DuplicateService.Check")
	defer func() {
		d.metrics.ObserveOperation(op, start, err)
		endSpan(span, err)
	}()

	p, err := resolvePrincipal(ctx, d.store, op)
	if err != nil {
		return nil, err
	}

	phone := NormalizePhone(c.Phone, d.region)
	email := NormalizeEmail(c.Email)
	name := NormalizeName(c.Name)

	checkPhone := len(digits(c.Phone)) >= minPhoneDigits
	checkEmail := strings.Contains(email, "@")
	checkName := len(name) >= minNameLength

	res = &DuplicateResult{Matches: []Match{}}
	if !checkPhone && !checkEmail && !checkName {
		return res, nil
	}

	v, _, err := d.store.Read(ctx, model.SalesCollection)
	if err != nil {
		return nil, err
	}

	sales := model.AsMap(v)
	ids := make([]string, 0, len(sales))
	for id := range sales {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var phoneMatches, emailMatches, nameMatches []Match
	for _, id := range ids {
		sale, err := model.SaleFromValue(id, sales[id])
		if err != nil {
			logrus.Debugf("duplicate: skipping sale %s: %v", id, err)
			continue
		}
		contact := sale.Contact()
		var shown *model.Contact
		if checkAccess(op, p, sale) == nil {
			shown = &contact
		}

		if checkPhone && contact.Phone != "" && NormalizePhone(contact.Phone, d.region) == phone {
			phoneMatches = append(phoneMatches, Match{SaleID: id, MatchType: MatchPhone, Confidence: model.ConfidenceHigh, Similarity: 1, Contact: shown})
		}

		if checkEmail && contact.Email != "" && NormalizeEmail(contact.Email) == email {
			emailMatches = append(emailMatches, Match{SaleID: id, MatchType: MatchEmail, Confidence: model.ConfidenceHigh, Similarity: 1, Contact: shown})
		}

		if checkName {
			similarity := NameSimilarity(name, NormalizeName(contact.Name))
			if similarity >= nameMatchThreshold {
				nameMatches = append(nameMatches, Match{SaleID: id, MatchType: MatchName, Confidence: nameConfidence(similarity), Similarity: similarity, Contact: shown})
			}
		}
	}

	seen := make(map[string]bool)
	var merged []Match
	for _, group := range [][]Match{phoneMatches, emailMatches, nameMatches} {
		for _, m := range group {
			if seen[m.SaleID] {
				continue
			}
			seen[m.SaleID] = true
			merged = append(merged, m)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if ri, rj := merged[i].Confidence.Rank(), merged[j].Confidence.Rank(); ri != rj {
			return ri > rj
		}
		return merged[i].Similarity > merged[j].Similarity
	})

	res.MatchCount = len(merged)
	res.HasDuplicate = len(merged) > 0
	if res.HasDuplicate {
		res.Confidence = merged[0].Confidence
	}
	if len(merged) > maxMatches {
		merged = merged[:maxMatches]
	}
	if merged != nil {
		res.Matches = merged
	}

	if res.HasDuplicate {
		d.metrics.IncrementDuplicateCheck(string(res.Confidence))
	} else {
		d.metrics.IncrementDuplicateCheck("NONE")
	}

	return res, nil
}

// StoreMatch records an accepted duplicate under duplicate_matches/<recordId>.
// Results without a match are not stored. When recordID names an existing
// sale the caller must own it, and a stored match can only be replaced by
// the principal that wrote it or an admin.
func (d *DuplicateService) StoreMatch(ctx context.Context, recordID string, res *DuplicateResult) (*model.DuplicateMatch, error) {
	const op = "storeDuplicateMatch"

	p, err := resolvePrincipal(ctx, d.store, op)
	if err != nil {
		return nil, err
	}
	if !model.ValidKey(recordID) {
		return nil, apperr.Wrap(apperr.ValidationFailed, op, ErrInvalidID, "%q", recordID)
	}
	if err := d.checkRecordAccess(ctx, op, p, recordID); err != nil {
		return nil, err
	}
	if res == nil || !res.HasDuplicate {
		return nil, nil
	}

	match := &model.DuplicateMatch{
		RecordID:   recordID,
		DetectedAt: model.Timestamp(d.now()),
		DetectedBy: p.ID,
		Confidence: res.Confidence,
		MatchCount: res.MatchCount,
		Matches:    make([]model.MatchRef, 0, len(res.Matches)),
	}
	for _, m := range res.Matches {
		match.Matches = append(match.Matches, model.MatchRef{
			SaleID:          m.SaleID,
			MatchType:       m.MatchType,
			MatchConfidence: m.Confidence,
		})
	}

	value, err := model.Encode(match)
	if err != nil {
		return nil, err
	}
	if err := d.store.Write(ctx, model.DuplicateMatchPath(recordID), value); err != nil {
		return nil, err
	}

	return match, nil
}

func (d *DuplicateService) checkRecordAccess(ctx context.Context, op string, p model.Principal, recordID string) error {
	if p.IsAdmin() {
		return nil
	}

	v, ok, err := d.store.Read(ctx, model.SalePath(recordID))
	if err != nil {
		return err
	}
	if ok {
		sale, err := model.SaleFromValue(recordID, v)
		if err != nil {
			return err
		}
		if err := checkAccess(op, p, sale); err != nil {
			return err
		}
	}

	v, ok, err = d.store.Read(ctx, model.DuplicateMatchPath(recordID))
	if err != nil {
		return err
	}
	if ok {
		var existing model.DuplicateMatch
		if err := model.Decode(v, &existing); err != nil {
			return err
		}
		if existing.DetectedBy != p.ID {
			return apperr.Wrap(apperr.AccessDenied, op, ErrNotOwner, "duplicate match %s", recordID)
		}
	}

	return nil
}
