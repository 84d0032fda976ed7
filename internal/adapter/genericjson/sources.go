// Copyright 2025 James Ross
package genericjson

import (
	"strconv"

	"github.com/medkg/ingestcore/internal/adapter"
	"github.com/medkg/ingestcore/internal/payload"
)

// DefaultEndpoints gives every generic-JSON source a working default URL;
// RegisterAll's caller may override individual entries (e.g. to point a
// source at an internal mirror) before registering.
var DefaultEndpoints = map[string]string{
	"openfda":         "https://api.fda.gov/drug/ndc.json",
	"dailymed":        "https://dailymed.nlm.nih.gov/dailymed/services/v2/spls.json",
	"rxnorm":          "https://rxnav.nlm.nih.gov/REST/allconcepts.json",
	"accessgudid":     "https://accessgudid.nlm.nih.gov/api/v3/devices.json",
	"pmc":             "https://www.ncbi.nlm.nih.gov/pmc/utils/oa/oa.fcgi",
	"medrxiv":         "https://api.medrxiv.org/details/medrxiv",
	"mesh":            "https://id.nlm.nih.gov/mesh/lookup/descriptor",
	"umls":            "https://uts-ws.nlm.nih.gov/rest/search/current",
	"loinc":           "https://fhir.loinc.org/CodeSystem/$lookup",
	"icd11":           "https://id.who.int/icd/entity",
	"snomed":          "https://browser.ihtsdotools.org/snowstorm/snomed-ct/concepts",
	"nice":            "https://www.nice.org.uk/api/guidance",
	"cdc_socrata":     "https://data.cdc.gov/resource",
	"who_gho":         "https://ghoapi.azureedge.net/api",
	"openprescribing": "https://openprescribing.net/api/1.0/spending_by_practice",
}

// RegisterAll installs a generic-JSON adapter for every source in this
// file, using endpoints (falling back to DefaultEndpoints for any source
// endpoints omits). Concrete adapters (clinicaltrials, pubmed) are
// registered separately by cmd/ingest since they implement their own
// paginating Adapter rather than using this package.
func RegisterAll(r *adapter.Registry, endpoints map[string]string) {
	endpointFor := func(source string) string {
		if e, ok := endpoints[source]; ok && e != "" {
			return e
		}
		return DefaultEndpoints[source]
	}

	registerOpenFDA(r, endpointFor("openfda"))
	registerDailyMed(r, endpointFor("dailymed"))
	registerRxNorm(r, endpointFor("rxnorm"))
	registerAccessGUDID(r, endpointFor("accessgudid"))
	registerPMC(r, endpointFor("pmc"))
	registerMedRxiv(r, endpointFor("medrxiv"))
	registerMeSH(r, endpointFor("mesh"))
	registerUMLS(r, endpointFor("umls"))
	registerLOINC(r, endpointFor("loinc"))
	registerICD11(r, endpointFor("icd11"))
	registerSNOMED(r, endpointFor("snomed"))
	registerNICE(r, endpointFor("nice"))
	registerCDCSocrata(r, endpointFor("cdc_socrata"))
	registerWHOGHO(r, endpointFor("who_gho"))
	registerOpenPrescribing(r, endpointFor("openprescribing"))
}

func registerOpenFDA(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.OpenFDARecord]{
		Source:   "openfda",
		Endpoint: endpoint,
		ItemsKey: "results",
		Guard:    payload.GuardOpenFDA,
		Decode: func(m map[string]interface{}) (payload.OpenFDARecord, error) {
			return payload.OpenFDARecord{
				ProductNDC:  str(m, "product_ndc"),
				BrandName:   str(m, "brand_name"),
				DosageForm:  str(m, "dosage_form"),
				Route:       strSlice(m, "route"),
				GenericName: str(m, "generic_name"),
				LabelerName: str(m, "labeler_name"),
			}, nil
		},
		DocID:         func(rec payload.OpenFDARecord) string { return "ndc:" + rec.ProductNDC },
		Content:       func(rec payload.OpenFDARecord) string { return rec.BrandName },
		SourceVersion: func(rec payload.OpenFDARecord) string { return rec.ProductNDC },
	})
}

func registerDailyMed(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.DailyMedSPLRecord]{
		Source:   "dailymed",
		Endpoint: endpoint,
		ItemsKey: "data",
		Guard:    payload.GuardDailyMedSPL,
		Decode: func(m map[string]interface{}) (payload.DailyMedSPLRecord, error) {
			return payload.DailyMedSPLRecord{
				SetID:         str(m, "set_id"),
				SPLVersion:    num(m, "spl_version"),
				Title:         str(m, "title"),
				EffectiveTime: str(m, "effective_time"),
				NDCCodes:      strSlice(m, "ndc_codes"),
			}, nil
		},
		DocID:         func(rec payload.DailyMedSPLRecord) string { return "setid:" + rec.SetID },
		Content:       func(rec payload.DailyMedSPLRecord) string { return rec.Title },
		SourceVersion: func(rec payload.DailyMedSPLRecord) string { return strconv.Itoa(rec.SPLVersion) },
	})
}

func registerRxNorm(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.RxNormConceptRecord]{
		Source:   "rxnorm",
		Endpoint: endpoint,
		ItemsKey: "concepts",
		Guard:    payload.GuardRxNorm,
		Decode: func(m map[string]interface{}) (payload.RxNormConceptRecord, error) {
			return payload.RxNormConceptRecord{
				RxCUI:   str(m, "rxcui"),
				Name:    str(m, "name"),
				TTY:     str(m, "tty"),
				Synonym: str(m, "synonym"),
			}, nil
		},
		DocID:   func(rec payload.RxNormConceptRecord) string { return "rxcui:" + rec.RxCUI },
		Content: func(rec payload.RxNormConceptRecord) string { return rec.Name },
	})
}

func registerAccessGUDID(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.AccessGUDIDDeviceRecord]{
		Source:   "accessgudid",
		Endpoint: endpoint,
		ItemsKey: "devices",
		Guard:    payload.GuardAccessGUDID,
		Decode: func(m map[string]interface{}) (payload.AccessGUDIDDeviceRecord, error) {
			return payload.AccessGUDIDDeviceRecord{
				PrimaryDI:   str(m, "primary_di"),
				BrandName:   str(m, "brand_name"),
				CompanyName: str(m, "company_name"),
				GMDNTerms:   strSlice(m, "gmdn_terms"),
			}, nil
		},
		DocID:   func(rec payload.AccessGUDIDDeviceRecord) string { return "gudid:" + rec.PrimaryDI },
		Content: func(rec payload.AccessGUDIDDeviceRecord) string { return rec.BrandName },
		Validate: func(rec payload.AccessGUDIDDeviceRecord) error {
			if len(rec.PrimaryDI) != 14 {
				return nil // not every AccessGUDID primary DI is a GTIN-14; skip the check digit rule when the length doesn't match
			}
			return payload.ValidateGTIN14(rec.PrimaryDI)
		},
	})
}

func registerPMC(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.PMCFullTextRecord]{
		Source:   "pmc",
		Endpoint: endpoint,
		ItemsKey: "records",
		Guard:    payload.GuardPMC,
		Decode: func(m map[string]interface{}) (payload.PMCFullTextRecord, error) {
			return payload.PMCFullTextRecord{
				PMCID:        str(m, "pmcid"),
				Title:        str(m, "title"),
				PMID:         str(m, "pmid"),
				BodySections: strSlice(m, "body_sections"),
			}, nil
		},
		DocID:   func(rec payload.PMCFullTextRecord) string { return "pmc:" + rec.PMCID },
		Content: func(rec payload.PMCFullTextRecord) string { return rec.Title },
	})
}

func registerMedRxiv(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.MedRxivPreprintRecord]{
		Source:   "medrxiv",
		Endpoint: endpoint,
		ItemsKey: "collection",
		Guard:    payload.GuardMedRxiv,
		Decode: func(m map[string]interface{}) (payload.MedRxivPreprintRecord, error) {
			return payload.MedRxivPreprintRecord{
				DOI:      str(m, "doi"),
				Title:    str(m, "title"),
				Abstract: str(m, "abstract"),
				Date:     str(m, "date"),
				Authors:  strSlice(m, "authors"),
				Language: str(m, "language"),
			}, nil
		},
		DocID:         func(rec payload.MedRxivPreprintRecord) string { return "doi:" + rec.DOI },
		Content:       func(rec payload.MedRxivPreprintRecord) string { return rec.Title },
		SourceVersion: func(rec payload.MedRxivPreprintRecord) string { return rec.Date },
		Validate: func(rec payload.MedRxivPreprintRecord) error {
			if rec.Language == "" {
				return nil
			}
			return payload.ValidateLanguageCode(rec.Language)
		},
	})
}

func registerMeSH(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.MeSHDescriptorRecord]{
		Source:   "mesh",
		Endpoint: endpoint,
		ItemsKey: "descriptors",
		Guard:    payload.GuardMeSH,
		Decode: func(m map[string]interface{}) (payload.MeSHDescriptorRecord, error) {
			return payload.MeSHDescriptorRecord{
				DescriptorUI:   str(m, "descriptor_ui"),
				DescriptorName: str(m, "descriptor_name"),
				TreeNumbers:    strSlice(m, "tree_numbers"),
			}, nil
		},
		DocID:   func(rec payload.MeSHDescriptorRecord) string { return "mesh:" + rec.DescriptorUI },
		Content: func(rec payload.MeSHDescriptorRecord) string { return rec.DescriptorName },
	})
}

func registerUMLS(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.UMLSConceptRecord]{
		Source:   "umls",
		Endpoint: endpoint,
		ItemsKey: "results",
		Guard:    payload.GuardUMLS,
		Decode: func(m map[string]interface{}) (payload.UMLSConceptRecord, error) {
			return payload.UMLSConceptRecord{
				CUI:           str(m, "cui"),
				PreferredName: str(m, "preferred_name"),
				SemanticTypes: strSlice(m, "semantic_types"),
				SourceVocab:   str(m, "source_vocab"),
			}, nil
		},
		DocID:   func(rec payload.UMLSConceptRecord) string { return "umls:" + rec.CUI },
		Content: func(rec payload.UMLSConceptRecord) string { return rec.PreferredName },
	})
}

func registerLOINC(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.LOINCConceptRecord]{
		Source:   "loinc",
		Endpoint: endpoint,
		ItemsKey: "concepts",
		Guard:    payload.GuardLOINC,
		Decode: func(m map[string]interface{}) (payload.LOINCConceptRecord, error) {
			return payload.LOINCConceptRecord{
				LoincNum:       str(m, "loinc_num"),
				LongCommonName: str(m, "long_common_name"),
				Component:      str(m, "component"),
				System:         str(m, "system"),
			}, nil
		},
		DocID:    func(rec payload.LOINCConceptRecord) string { return "loinc:" + rec.LoincNum },
		Content:  func(rec payload.LOINCConceptRecord) string { return rec.LongCommonName },
		Validate: func(rec payload.LOINCConceptRecord) error { return payload.ValidateLOINCNum(rec.LoincNum) },
	})
}

func registerICD11(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.ICD11EntityRecord]{
		Source:   "icd11",
		Endpoint: endpoint,
		ItemsKey: "entities",
		Guard:    payload.GuardICD11,
		Decode: func(m map[string]interface{}) (payload.ICD11EntityRecord, error) {
			return payload.ICD11EntityRecord{
				EntityID:   str(m, "entity_id"),
				Title:      str(m, "title"),
				Definition: str(m, "definition"),
				Parent:     str(m, "parent"),
			}, nil
		},
		DocID:   func(rec payload.ICD11EntityRecord) string { return "icd11:" + rec.EntityID },
		Content: func(rec payload.ICD11EntityRecord) string { return rec.Title },
	})
}

func registerSNOMED(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.SNOMEDConceptRecord]{
		Source:   "snomed",
		Endpoint: endpoint,
		ItemsKey: "items",
		Guard:    payload.GuardSNOMED,
		Decode: func(m map[string]interface{}) (payload.SNOMEDConceptRecord, error) {
			return payload.SNOMEDConceptRecord{
				ConceptID: str(m, "concept_id"),
				FSN:       str(m, "fsn"),
				ModuleID:  str(m, "module_id"),
				Active:    boolField(m, "active"),
			}, nil
		},
		DocID:    func(rec payload.SNOMEDConceptRecord) string { return "snomed:" + rec.ConceptID },
		Content:  func(rec payload.SNOMEDConceptRecord) string { return rec.FSN },
		Validate: func(rec payload.SNOMEDConceptRecord) error { return payload.ValidateSNOMEDConceptID(rec.ConceptID) },
	})
}

func registerNICE(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.NICEGuidelineRecord]{
		Source:   "nice",
		Endpoint: endpoint,
		ItemsKey: "guidance",
		Guard:    payload.GuardNICE,
		Decode: func(m map[string]interface{}) (payload.NICEGuidelineRecord, error) {
			return payload.NICEGuidelineRecord{
				GuidelineID:   str(m, "guideline_id"),
				Title:         str(m, "title"),
				PublishedDate: str(m, "published_date"),
				URL:           str(m, "url"),
			}, nil
		},
		DocID:         func(rec payload.NICEGuidelineRecord) string { return "nice:" + rec.GuidelineID },
		URI:           func(rec payload.NICEGuidelineRecord) string { return rec.URL },
		Content:       func(rec payload.NICEGuidelineRecord) string { return rec.Title },
		SourceVersion: func(rec payload.NICEGuidelineRecord) string { return rec.PublishedDate },
	})
}

func registerCDCSocrata(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.CDCSocrataRowRecord]{
		Source:   "cdc_socrata",
		Endpoint: endpoint,
		Guard:    payload.GuardCDCSocrata,
		Decode: func(m map[string]interface{}) (payload.CDCSocrataRowRecord, error) {
			return payload.CDCSocrataRowRecord{
				RowID:     str(m, "row_id"),
				DatasetID: str(m, "dataset_id"),
				Fields:    mapField(m, "fields"),
			}, nil
		},
		DocID: func(rec payload.CDCSocrataRowRecord) string { return "cdc:" + rec.DatasetID + ":" + rec.RowID },
	})
}

func registerWHOGHO(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.WHOGHOIndicatorRecord]{
		Source:   "who_gho",
		Endpoint: endpoint,
		ItemsKey: "value",
		Guard:    payload.GuardWHOGHO,
		Decode: func(m map[string]interface{}) (payload.WHOGHOIndicatorRecord, error) {
			return payload.WHOGHOIndicatorRecord{
				IndicatorCode: str(m, "indicator_code"),
				IndicatorName: str(m, "indicator_name"),
				Value:         flt(m, "value"),
				Country:       str(m, "country"),
				Year:          num(m, "year"),
			}, nil
		},
		DocID: func(rec payload.WHOGHOIndicatorRecord) string {
			return "who:" + rec.IndicatorCode + ":" + rec.Country + ":" + strconv.Itoa(rec.Year)
		},
		Content: func(rec payload.WHOGHOIndicatorRecord) string { return rec.IndicatorName },
	})
}

func registerOpenPrescribing(r *adapter.Registry, endpoint string) {
	Register(r, Config[payload.OpenPrescribingRowRecord]{
		Source:   "openprescribing",
		Endpoint: endpoint,
		Guard:    payload.GuardOpenPrescribing,
		Decode: func(m map[string]interface{}) (payload.OpenPrescribingRowRecord, error) {
			return payload.OpenPrescribingRowRecord{
				PracticeCode: str(m, "practice_code"),
				BNFCode:      str(m, "bnf_code"),
				Items:        num(m, "items"),
				ActualCost:   flt(m, "actual_cost"),
				Quantity:     flt(m, "quantity"),
			}, nil
		},
		DocID: func(rec payload.OpenPrescribingRowRecord) string {
			return "openprescribing:" + rec.PracticeCode + ":" + rec.BNFCode
		},
	})
}
