// Copyright 2025 James Ross
package payload

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ProbeRequiredKeys is the fast boundary check run on a raw HTTP response
// body before it is ever unmarshaled into a typed record: it rejects
// obviously-wrong payloads (wrong source, truncated body, HTML error page)
// for the cost of a handful of gjson lookups instead of a full decode.
func ProbeRequiredKeys(raw json.RawMessage, keys ...string) bool {
	if !gjson.ValidBytes(raw) {
		return false
	}
	for _, k := range keys {
		if !gjson.GetBytes(raw, k).Exists() {
			return false
		}
	}
	return true
}

// Guard is a structural type guard: given a generically-decoded JSON
// object it reports whether the object has the shape required to parse
// into a given Payload, without touching the network or allocating the
// full typed struct. Adapters call the guard for their source before
// calling parse; a false result is a ValidationError, never a panic.
type Guard func(m map[string]interface{}) bool

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func nonEmptyString(m map[string]interface{}, key string) bool {
	s, ok := stringField(m, key)
	return ok && s != ""
}

func numberField(m map[string]interface{}, key string) bool {
	_, ok := m[key].(float64)
	return ok
}

// GuardClinicalTrials checks for the fields required to parse a
// ClinicalTrialsRecord.
func GuardClinicalTrials(m map[string]interface{}) bool {
	return nonEmptyString(m, "nct_id") && nonEmptyString(m, "brief_title") && nonEmptyString(m, "overall_status")
}

// GuardOpenFDA checks for the fields required to parse an OpenFDARecord.
func GuardOpenFDA(m map[string]interface{}) bool {
	return nonEmptyString(m, "product_ndc") && nonEmptyString(m, "brand_name") && nonEmptyString(m, "dosage_form")
}

// GuardDailyMedSPL checks for the fields required to parse a DailyMedSPLRecord.
func GuardDailyMedSPL(m map[string]interface{}) bool {
	return nonEmptyString(m, "set_id") && numberField(m, "spl_version") && nonEmptyString(m, "title")
}

// GuardRxNorm checks for the fields required to parse an RxNormConceptRecord.
func GuardRxNorm(m map[string]interface{}) bool {
	return nonEmptyString(m, "rxcui") && nonEmptyString(m, "name") && nonEmptyString(m, "tty")
}

// GuardAccessGUDID checks for the fields required to parse an
// AccessGUDIDDeviceRecord.
func GuardAccessGUDID(m map[string]interface{}) bool {
	return nonEmptyString(m, "primary_di") && nonEmptyString(m, "brand_name")
}

// GuardPubMed checks for the fields required to parse a PubMedArticleRecord.
func GuardPubMed(m map[string]interface{}) bool {
	return nonEmptyString(m, "pmid") && nonEmptyString(m, "title")
}

// GuardPMC checks for the fields required to parse a PMCFullTextRecord.
func GuardPMC(m map[string]interface{}) bool {
	return nonEmptyString(m, "pmcid") && nonEmptyString(m, "title")
}

// GuardMedRxiv checks for the fields required to parse a MedRxivPreprintRecord.
func GuardMedRxiv(m map[string]interface{}) bool {
	return nonEmptyString(m, "doi") && nonEmptyString(m, "title")
}

// GuardMeSH checks for the fields required to parse a MeSHDescriptorRecord.
func GuardMeSH(m map[string]interface{}) bool {
	return nonEmptyString(m, "descriptor_ui") && nonEmptyString(m, "descriptor_name")
}

// GuardUMLS checks for the fields required to parse a UMLSConceptRecord.
func GuardUMLS(m map[string]interface{}) bool {
	return nonEmptyString(m, "cui") && nonEmptyString(m, "preferred_name")
}

// GuardLOINC checks for the fields required to parse a LOINCConceptRecord.
func GuardLOINC(m map[string]interface{}) bool {
	return nonEmptyString(m, "loinc_num") && nonEmptyString(m, "long_common_name")
}

// GuardICD11 checks for the fields required to parse an ICD11EntityRecord.
func GuardICD11(m map[string]interface{}) bool {
	return nonEmptyString(m, "entity_id") && nonEmptyString(m, "title")
}

// GuardSNOMED checks for the fields required to parse a SNOMEDConceptRecord.
func GuardSNOMED(m map[string]interface{}) bool {
	return nonEmptyString(m, "concept_id") && nonEmptyString(m, "fsn")
}

// GuardNICE checks for the fields required to parse a NICEGuidelineRecord.
func GuardNICE(m map[string]interface{}) bool {
	return nonEmptyString(m, "guideline_id") && nonEmptyString(m, "title")
}

// GuardCDCSocrata checks for the fields required to parse a CDCSocrataRowRecord.
func GuardCDCSocrata(m map[string]interface{}) bool {
	return nonEmptyString(m, "row_id") && nonEmptyString(m, "dataset_id")
}

// GuardWHOGHO checks for the fields required to parse a WHOGHOIndicatorRecord.
func GuardWHOGHO(m map[string]interface{}) bool {
	return nonEmptyString(m, "indicator_code") && nonEmptyString(m, "indicator_name")
}

// GuardOpenPrescribing checks for the fields required to parse an
// OpenPrescribingRowRecord.
func GuardOpenPrescribing(m map[string]interface{}) bool {
	return nonEmptyString(m, "practice_code") && nonEmptyString(m, "bnf_code")
}

// Guards maps a source name to its structural type guard. The adapter
// registry and genericjson adapter both consult this so adding a new
// source means adding one entry here plus the shape in types.go.
var Guards = map[string]Guard{
	"clinicaltrials":  GuardClinicalTrials,
	"openfda":         GuardOpenFDA,
	"dailymed":        GuardDailyMedSPL,
	"rxnorm":          GuardRxNorm,
	"accessgudid":     GuardAccessGUDID,
	"pubmed":          GuardPubMed,
	"pmc":             GuardPMC,
	"medrxiv":         GuardMedRxiv,
	"mesh":            GuardMeSH,
	"umls":            GuardUMLS,
	"loinc":           GuardLOINC,
	"icd11":           GuardICD11,
	"snomed":          GuardSNOMED,
	"nice":            GuardNICE,
	"cdc_socrata":     GuardCDCSocrata,
	"who_gho":         GuardWHOGHO,
	"openprescribing": GuardOpenPrescribing,
}
