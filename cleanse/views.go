// Package cleanse implements the cross-dataset analysis engine: a
// lock-guarded singleton batch job that reconciles the CTS and SAM
// CPH-holding datasets, records data-quality issues idempotently and
// exports a compressed CSV report.
package cleanse

import (
	"context"
	"strings"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/docstore"
	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// CtsHolding is the rule-relevant projection of one CTS record.
type CtsHolding struct {
	LidFullIdentifier string
	Emails            []string
	Phones            []string
	AdrName           string
}

// SamHolding is the rule-relevant projection of one SAM record.
type SamHolding struct {
	Cph         string
	Emails      []string
	Phones      []string
	SpeciesCode string
	FeatureName string
}

// splitMulti splits a multi-valued source cell into trimmed non-empty
// values.
func splitMulti(cell string) []string {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(cell, types.MultiValueSeparator) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func ctsFromDocument(doc docstore.Document) *CtsHolding {
	return &CtsHolding{
		LidFullIdentifier: docStr(doc, types.FieldLidFullIdentifier),
		Emails:            splitMulti(docStr(doc, types.FieldEmailAddress)),
		Phones:            splitMulti(docStr(doc, types.FieldPhoneNumber)),
		AdrName:           docStr(doc, types.FieldAdrName),
	}
}

func samFromDocument(doc docstore.Document) *SamHolding {
	return &SamHolding{
		Cph:         docStr(doc, types.FieldCph),
		Emails:      splitMulti(docStr(doc, types.FieldEmailAddress)),
		Phones:      splitMulti(docStr(doc, types.FieldPhoneNumber)),
		SpeciesCode: docStr(doc, types.FieldAnimalSpeciesCode),
		FeatureName: docStr(doc, types.FieldFeatureName),
	}
}

func docStr(doc docstore.Document, field string) string {
	s, _ := doc[field].(string)
	return s
}

// Views resolves holdings across the two datasets. The collection
// names come from dataset configuration.
type Views struct {
	store   *docstore.Store
	ctsColl string
	samColl string
}

// NewViews wires the cross-dataset lookup service.
func NewViews(store *docstore.Store, ctsCollection, samCollection string) *Views {
	return &Views{store: store, ctsColl: ctsCollection, samColl: samCollection}
}

// SamByCph fetches the live SAM holding for a canonical CPH, nil when
// absent.
func (v *Views) SamByCph(ctx context.Context, cph string) (*SamHolding, error) {
	doc, err := v.firstLive(ctx, v.samColl, types.FieldCph, cph)
	if err != nil || doc == nil {
		return nil, err
	}
	return samFromDocument(doc), nil
}

// CtsByLid fetches the live CTS holding for a LID full identifier, nil
// when absent.
func (v *Views) CtsByLid(ctx context.Context, lid string) (*CtsHolding, error) {
	doc, err := v.firstLive(ctx, v.ctsColl, types.FieldLidFullIdentifier, lid)
	if err != nil || doc == nil {
		return nil, err
	}
	return ctsFromDocument(doc), nil
}

// CtsByCph fetches any live CTS holding whose LID embeds the CPH.
func (v *Views) CtsByCph(ctx context.Context, cph string) (*CtsHolding, error) {
	res, err := v.store.Query(ctx, docstore.QueryParameters{
		Collection: v.ctsColl,
		Filter: docstore.And(
			docstore.Eq(types.FieldIsDeleted, false),
			docstore.Contains(types.FieldLidFullIdentifier, cph),
		),
		Top: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return ctsFromDocument(res.Data[0]), nil
}

func (v *Views) firstLive(ctx context.Context, collection, field, value string) (docstore.Document, error) {
	res, err := v.store.Query(ctx, docstore.QueryParameters{
		Collection: collection,
		Filter: docstore.And(
			docstore.Eq(types.FieldIsDeleted, false),
			docstore.Eq(field, value),
		),
		Top: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, nil
	}
	return res.Data[0], nil
}
