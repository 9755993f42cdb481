package cards

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/cardprice/pkg/server/sources"
)

const (
	// NameGraded is the registry name of the graded certificate source.
	NameGraded = "graded"

	certRegistryBaseURL = "https://api.psacard.com/publicapi"
	gradedWeight        = 1.0
	defaultGrader       = "PSA"
)

// gradedFieldKeys maps grading company and grade to the price-comparison field
// holding that grade's price. Grades are normalized with normalizeGrade.
var gradedFieldKeys = map[string]map[string]string{
	"PSA": {"10": "manual-only-price", "9": "graded-price", "8": "new-price", "7": "cib-price"},
	"BGS": {"10": "bgs-10-price", "9.5": "box-only-price", "9": "graded-price", "8": "new-price", "7": "cib-price"},
	"CGC": {"10": "condition-17-price", "9.5": "box-only-price", "9": "graded-price", "8": "new-price", "7": "cib-price"},
	"SGC": {"10": "condition-18-price", "9.5": "box-only-price", "9": "graded-price", "8": "new-price", "7": "cib-price"},
}

var (
	gradeNumberRe  = regexp.MustCompile(`(\d+(?:\.\d)?)\s*$`)
	firstEditionRe = regexp.MustCompile(`\b1st ed(?:ition\b|\.|\b)`)
)

// GradedFieldKey returns the price field for a grading company and grade.
func GradedFieldKey(company, grade string) (string, bool) {
	grades, ok := gradedFieldKeys[strings.ToUpper(strings.TrimSpace(company))]
	if !ok {
		return "", false
	}
	key, ok := grades[normalizeGrade(grade)]
	return key, ok
}

func normalizeGrade(grade string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(grade), 64)
	if err != nil {
		return strings.TrimSpace(grade)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalizeVariant folds print variant spellings so a certificate variety
// ("1ST EDITION HOLO") compares equal to a product tag ("1st Edition").
// Plain holo and unlimited prints are the base variant "".
func normalizeVariant(v string) string {
	n := sources.NormalizeText(v)
	n = firstEditionRe.ReplaceAllString(n, "1st edition")
	n = strings.ReplaceAll(n, "holofoil", "holo")
	switch n {
	case "", "holo", "unlimited", "unlimited holo", "rare holo":
		return ""
	}
	n = strings.TrimSuffix(n, " holo")
	return strings.TrimSpace(n)
}

// Cert is the part of a certificate registry record the price lookup needs.
type Cert struct {
	Number     string
	Subject    string
	Brand      string
	CardNumber string
	Variety    string
	Grade      string
}

// GradedQuote is the outcome of a graded lookup. GradedPrice is null when the
// exactly matched print variant has no price for the requested grade.
type GradedQuote struct {
	GradedPrice   decimal.NullDecimal `json:"graded_price"`
	UngradedPrice decimal.NullDecimal `json:"ungraded_price"`
	Company       string              `json:"grading_company"`
	Grade         string              `json:"grade"`
	FieldKey      string              `json:"field_key"`
	Variant       string              `json:"variant"`
	Matched       string              `json:"matched,omitempty"`
}

// GradedSource resolves a grading certificate to a card and prices that card
// at the certified grade. It never substitutes another print variant's price.
type GradedSource struct {
	*sources.BaseSource

	certToken string
	prices    *PriceChartingSource
}

// NewGradedSourceFromConfig creates a GradedSource.
// Config: cert_token, cert_base_url, price_token, price_base_url.
func NewGradedSourceFromConfig(config map[string]interface{}) (sources.Source, error) {
	priceCfg := make(map[string]interface{}, len(config))
	for k, v := range config {
		priceCfg[k] = v
	}
	priceCfg["token"] = sources.GetString(config, "price_token", "")
	priceCfg["base_url"] = sources.GetString(config, "price_base_url", priceChartingBaseURL)

	certCfg := make(map[string]interface{}, len(config))
	for k, v := range config {
		certCfg[k] = v
	}
	certCfg["base_url"] = sources.GetString(config, "cert_base_url", certRegistryBaseURL)

	return &GradedSource{
		BaseSource: sources.NewBaseSource(NameGraded, certRegistryBaseURL, gradedWeight, certCfg),
		certToken:  sources.GetString(config, "cert_token", ""),
		prices:     newPriceChartingSource(priceCfg),
	}, nil
}

// Configured reports whether price credentials are present. Certificate
// resolution additionally needs cert_token; name based graded queries do not.
func (s *GradedSource) Configured() bool {
	return s.prices.Configured()
}

// certNumber returns the certificate number carried by the query, if any.
func certNumber(q sources.Query) string {
	if sources.IsCertNumber(q.ExternalID) {
		return strings.TrimSpace(q.ExternalID)
	}
	if sources.IsCertNumber(q.Name) {
		return strings.TrimSpace(q.Name)
	}
	return ""
}

// Lookup returns the graded price, or nil when the query is neither a
// certificate nor a graded query, or the matched variant has no price at that grade.
func (s *GradedSource) Lookup(ctx context.Context, q sources.Query) (*sources.Quote, error) {
	gq, err := s.LookupGraded(ctx, q)
	if err != nil || gq == nil {
		return nil, err
	}
	if !gq.GradedPrice.Valid {
		s.Logger().Info("Graded price unavailable for matched variant",
			"variant", gq.Variant, "grading_company", gq.Company, "grade", gq.Grade, "field", gq.FieldKey)
		return nil, nil
	}
	return &sources.Quote{Price: gq.GradedPrice.Decimal, Matched: gq.Matched}, nil
}

// LookupGraded prices the exact print variant named by a certificate or, without
// one, by the query's own name, number and variant.
func (s *GradedSource) LookupGraded(ctx context.Context, q sources.Query) (*GradedQuote, error) {
	cert := certNumber(q)
	if cert == "" && !q.IsGraded() {
		return nil, nil
	}
	if !s.Configured() {
		return nil, fmt.Errorf("%w: %s", sources.ErrNotConfigured, s.Name())
	}

	c := Cert{Subject: q.Name, CardNumber: q.CardNumber, Variety: q.Variant, Grade: q.Grade}
	if cert != "" {
		var err error
		c, err = s.fetchCert(ctx, cert)
		if errors.Is(err, ErrCertNotFound) {
			s.Logger().Debug("Certificate not found", "cert", cert)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	company := strings.ToUpper(strings.TrimSpace(q.GradingCompany))
	if company == "" {
		company = defaultGrader
	}
	grade := q.Grade
	if grade == "" {
		grade = c.Grade
	}
	fieldKey, ok := GradedFieldKey(company, grade)
	if !ok {
		s.Logger().Debug("No price field for grade", "grading_company", company, "grade", grade)
		return nil, nil
	}

	candidates, err := s.prices.searchProducts(ctx, sources.SearchText(c.Subject, c.CardNumber, c.Variety))
	if err != nil {
		return nil, err
	}

	return PriceVariant(candidates, c, company, grade, fieldKey), nil
}

// PriceVariant picks the candidate of exactly the certificate's print variant
// and reads the graded and ungraded prices from it. When no candidate has that
// variant, or the variant lacks the grade field, the graded price is null.
func PriceVariant(candidates []sources.Candidate, c Cert, company, grade, fieldKey string) *GradedQuote {
	gq := &GradedQuote{
		Company:  company,
		Grade:    normalizeGrade(grade),
		FieldKey: fieldKey,
		Variant:  c.Variety,
	}

	want := normalizeVariant(c.Variety)
	exact := make([]sources.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if normalizeVariant(cand.Variant) == want {
			exact = append(exact, cand)
		}
	}

	best, ok := sources.Select(exact, sources.Query{Name: c.Subject, CardNumber: c.CardNumber})
	if !ok {
		return gq
	}

	gq.Matched = best.Data.Get("product-name").String()
	if v, ok := sources.Pennies(fieldKey)(best.Data); ok {
		gq.GradedPrice = decimal.NewNullDecimal(v)
	}
	if v, ok := sources.Pennies("loose-price")(best.Data); ok {
		gq.UngradedPrice = decimal.NewNullDecimal(v)
	}
	return gq
}

// fetchCert reads one certificate from the registry.
func (s *GradedSource) fetchCert(ctx context.Context, cert string) (Cert, error) {
	if s.certToken == "" {
		return Cert{}, fmt.Errorf("%w: %s certificate registry", sources.ErrNotConfigured, s.Name())
	}
	body, err := s.GetJSON(ctx, "cert", s.BaseURL()+"/cert/GetByCertNumber/"+cert, map[string]string{
		"Authorization": "bearer " + s.certToken,
	})
	if sources.IsStatus(err, http.StatusNotFound) {
		return Cert{}, ErrCertNotFound
	}
	if err != nil {
		return Cert{}, err
	}

	rec := gjson.GetBytes(body, "PSACert")
	if !rec.Exists() {
		if msg := gjson.GetBytes(body, "IsValidRequest"); msg.Exists() && !msg.Bool() {
			return Cert{}, ErrCertNotFound
		}
		return Cert{}, fmt.Errorf("%w: missing PSACert", sources.ErrInvalidResponse)
	}

	c := Cert{
		Number:     rec.Get("CertNumber").String(),
		Subject:    rec.Get("Subject").String(),
		Brand:      rec.Get("Brand").String(),
		CardNumber: rec.Get("CardNumber").String(),
		Variety:    rec.Get("Variety").String(),
	}
	if m := gradeNumberRe.FindStringSubmatch(rec.Get("CardGrade").String()); m != nil {
		c.Grade = m[1]
	}
	if c.Subject == "" {
		return Cert{}, fmt.Errorf("%w: certificate %s has no subject", sources.ErrInvalidResponse, cert)
	}
	return c, nil
}
