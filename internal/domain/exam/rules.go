package exam

import (
	"regexp"
	"strings"
	"sync"
)

// RulesVersion identifies the rule tables below. Memoized classifications
// are only valid for the version that produced them.
const RulesVersion = "2024.3"

// Matcher reports whether normalized (upper-cased, single-spaced) text matches.
type Matcher func(t string) bool

// ModalityRule maps a description predicate to a modality. Variants refine
// the result and are checked in order before falling back to Result.
type ModalityRule struct {
	ID       string
	Match    Matcher
	Result   Modality
	Variants []ModalityVariant
}

// ModalityVariant is a sub-type refinement of a ModalityRule.
type ModalityVariant struct {
	Match  Matcher
	Result Modality
}

func (r ModalityRule) resolve(t string) Modality {
	for _, v := range r.Variants {
		if v.Match(t) {
			return v.Result
		}
	}
	return r.Result
}

// RegionRule maps a description predicate to one or more regions.
type RegionRule struct {
	ID      string
	Match   Matcher
	Regions Regions
}

// CodeFamily groups procedure codes that share a prefix.
type CodeFamily string

const (
	FamilyCT   CodeFamily = "CT"
	FamilyMR   CodeFamily = "MR"
	FamilyPET  CodeFamily = "PET"
	FamilyXR   CodeFamily = "XR"
	FamilyRT   CodeFamily = "RT"
	FamilyNM   CodeFamily = "NM"
	FamilyFL   CodeFamily = "FL"
	FamilyUS   CodeFamily = "US"
	FamilyMG   CodeFamily = "MG"
	FamilyProc CodeFamily = "Z"
)

// CodeModalityRule maps an upper-cased procedure code to a modality.
// Ambiguous rules defer to the AmbiguousCode table, evaluated on the description.
type CodeModalityRule struct {
	ID        string
	Family    CodeFamily
	Prefix    string
	Match     func(code string) bool
	Result    Modality
	Ambiguous bool
}

// CodeRegionRule maps the part of a code after its family prefix, plus the
// normalized description, to regions.
type CodeRegionRule struct {
	ID      string
	Match   func(rest, desc string) bool
	Regions Regions
}

// ContrastRule maps a contrast wording to its display phrase.
type ContrastRule struct {
	ID     string
	Match  Matcher
	Phrase string
}

// RuleSet holds every classification table in evaluation order. A RuleSet is
// read-only after construction and safe for concurrent use.
type RuleSet struct {
	Version        string
	CodeModality   []CodeModalityRule
	AmbiguousCode  []ModalityRule
	CodeRegion     map[CodeFamily][]CodeRegionRule
	DescModality   []ModalityRule
	RegionCombos   []RegionRule
	RegionSingles  []RegionRule
	RegionNM       []RegionRule
	RegionCatchAll []RegionRule
	Contrast       []ContrastRule
	Angio          Matcher
}

var defaultRules = sync.OnceValue(buildDefaultRules)

// DefaultRules returns the shared built-in rule set.
func DefaultRules() *RuleSet { return defaultRules() }

// -- matcher helpers --

// kw compiles word-bounded alternatives. Fragments are regular expressions.
func kw(frags ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(frags, "|") + `)\b`)
}

func re(expr string) *regexp.Regexp { return regexp.MustCompile(expr) }

func has(r *regexp.Regexp) Matcher { return r.MatchString }

func contains(s string) Matcher {
	return func(t string) bool { return strings.Contains(t, s) }
}

func allOf(ms ...Matcher) Matcher {
	return func(t string) bool {
		for _, m := range ms {
			if !m(t) {
				return false
			}
		}
		return true
	}
}

func anyOf(ms ...Matcher) Matcher {
	return func(t string) bool {
		for _, m := range ms {
			if m(t) {
				return true
			}
		}
		return false
	}
}

func not(m Matcher) Matcher {
	return func(t string) bool { return !m(t) }
}

func codePrefix(prefix string) func(string) bool {
	return func(code string) bool { return strings.HasPrefix(code, prefix) }
}

// angioCodeRegions are the region tokens that may follow a bare angio letter,
// as in CTAHEAD or MRVBRN.
var angioCodeRegions = []string{
	"HD", "HEAD", "NECK", "BR", "CAR", "COR", "CH", "PUL", "AO", "AB", "PE", "REN", "MES", "RUN", "LE", "UE", "EXT",
}

// angioCode matches codes whose remainder after prefix carries the long
// angio token anywhere, or starts with the bare letter followed by a region
// token. CTABD and MRANKLE are plain studies.
func angioCode(prefix, long, letter string) func(string) bool {
	return func(code string) bool {
		rest, ok := strings.CutPrefix(code, prefix)
		if !ok {
			return false
		}
		if strings.Contains(rest, long) {
			return true
		}
		after, ok := strings.CutPrefix(rest, letter)
		if !ok {
			return false
		}
		if after == "" {
			return true
		}
		for _, tok := range angioCodeRegions {
			if strings.HasPrefix(after, tok) {
				return true
			}
		}
		return false
	}
}

// codeHas matches when the code remainder contains every group, where a group
// is satisfied by any of its "|" separated tokens.
func codeHas(groups ...string) func(rest, desc string) bool {
	return func(rest, _ string) bool {
		for _, g := range groups {
			ok := false
			for _, tok := range strings.Split(g, "|") {
				if strings.Contains(rest, tok) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		}
		return true
	}
}

func descHas(m Matcher) func(rest, desc string) bool {
	return func(_, desc string) bool { return m(desc) }
}

func codeOrDesc(code func(rest, desc string) bool, desc Matcher) func(rest, desc string) bool {
	return func(rest, d string) bool { return code(rest, d) || desc(d) }
}

// -- auxiliary keyword sets --

var (
	kwCT = has(kw(`CT`, `COMPUTED TOMOGRAPHY`, `CAT SCAN`))
	kwMR = has(kw(`MRI?`, `MAGNETIC RESONANCE`))

	kwAngio = has(kw(`ANGIO`, `ANGIOGRA\w*`, `ARTERIOGRA\w*`))
	kwVeno  = has(kw(`VENOGRA\w*`))

	// competingModality names a non-nuclear imaging modality outright.
	competingModality = has(kw(`CT`, `CTA`, `CTV`, `MRI?`, `MRA`, `MRV`, `US`, `ULTRASOUND`, `XR`, `X-RAY`, `XRAY`))

	// usOrXR is the narrower exclusion for nuclear exam-type phrasing; CT and
	// MR wording has already been claimed by then.
	usOrXR = has(kw(`US`, `ULTRASOUND`, `XR`, `X-RAY`, `XRAY`))

	nmExplicit  = has(kw(`NM`, `NUCLEAR MEDICINE`, `NUC MED`, `SCINTIGRA\w*`))
	nmExamTypes = has(kw(
		`HIDA`, `BONE SCAN`, `3 PHASE BONE`, `THREE PHASE BONE`, `RENAL SCAN`, `LUNG VENT\w*`,
		`PERF\w* SCAN`, `V/Q`, `VQ`, `GASTRIC EMPTYING`, `MAG3`, `LASIX`, `HEPATOBILIARY`,
		`LIVER AND SPLEEN`, `MUGA`, `SESTAMIBI`, `THYROID UPTAKE`, `THYROID SCAN`,
		`PARATHYROID SCAN`, `OCTREOTIDE`, `DATSCAN`, `LYMPHOSCINTIGRA\w*`, `SPECT`,
		`GALLIUM SCAN`, `WBC SCAN`, `MIBG`, `CISTERNOGRA\w*`,
	))
	// radioactive names the material itself; injection wording only counts
	// toward nuclear medicine alongside a procedural word.
	radioactive = has(kw(
		`RADIOPHARM\w*`, `RADIOTRACER`, `RADIONUCLIDE`, `RADIOACTIVE`,
		`ISOTOPE`, `TRACER`, `TC-?99M?`, `TECHNETIUM`, `I-?131`, `I-?123`, `IODINE`, `GALLIUM`,
		`INDIUM`, `THALLIUM`, `F-?18`, `FDG`, `XENON`,
	))
	injection   = has(kw(`INJECT\w*`))
	procedural  = has(kw(`SCANS?`, `PROCEDURES?`, `STUDY`, `STUDIES`, `IMAGING`))
	nmIndicator = anyOf(nmExplicit, nmExamTypes, radioactive, allOf(injection, procedural))

	headNeckNM   = has(kw(`THYROID`, `PARATHYROID`, `SALIVARY`, `BRAIN`, `LACRIMAL`, `DACRYO\w*`, `CSF`, `CISTERN\w*`))
	invasiveStop = has(kw(`BIOPSY`, `BIOPSIES`, `CATHETER\w*`, `DRAINAGE`))

	invasive = has(kw(
		`INVASIVE`, `BIOPSY`, `BIOPSIES`, `ASPIRATION`, `DRAINAGE`, `DRAIN`, `CATHETER\w*`, `STENT\w*`,
		`PROCEDURE`, `PARACENTESIS`, `THORACENTESIS`, `PORTACATH`, `PORT-A-CATH`, `EMBOLIZATION`,
		`ABLATION`, `PLACEMENT`, `INJECTION`, `ANGIOGRA\w*`, `ARTERIOGRA\w*`, `VENOGRA\w*`,
		`KYPHOPLASTY`, `VERTEBROPLASTY`,
	))

	xrAnatomy = has(kw(
		`CHEST`, `ABDOMEN`, `KNEES?`, `HANDS?`, `FOOT`, `FEET`, `SHOULDERS?`, `ELBOWS?`, `ANKLES?`,
		`WRISTS?`, `HIPS?`, `FEMUR`, `TIBIA`, `HUMERUS`, `FINGERS?`, `TOES?`, `SPINE`, `PELVIS`,
		`CLAVICLES?`, `RIBS?`, `SINUS(?:ES)?`, `TEMPORAL`, `FACIAL`, `ORBITS?`, `SKULL`, `SACRUM`, `COCCYX`,
	))
	// xrCompeting blocks the anatomy heuristic when the text names a later
	// modality or an invasive procedure.
	xrCompeting = has(kw(
		`FL`, `FLUORO\w*`, `MAMMO\w*`, `ECHO\w*`, `BIOPSY`, `ASPIRATION`, `DRAINAGE`, `ARTHROGRA\w*`,
		`MYELOGRA\w*`, `INJECTION`, `ANGIO\w*`, `ARTERIOGRA\w*`, `VENOGRA\w*`, `LUMBAR PUNCTURE`,
		`BARIUM`, `CATHETER\w*`, `PORTACATH`,
	))
)

func buildDefaultRules() *RuleSet {
	return &RuleSet{
		Version:        RulesVersion,
		CodeModality:   codeModalityRules(),
		AmbiguousCode:  ambiguousCodeRules(),
		CodeRegion:     codeRegionRules(),
		DescModality:   descModalityRules(),
		RegionCombos:   regionComboRules(),
		RegionSingles:  regionSingleRules(),
		RegionNM:       regionNMRules(),
		RegionCatchAll: regionCatchAllRules(),
		Contrast:       contrastRules(),
		Angio:          anyOf(kwAngio, kwVeno),
	}
}

func codeModalityRules() []CodeModalityRule {
	return []CodeModalityRule{
		{ID: "code.cta", Family: FamilyCT, Prefix: "CT", Match: angioCode("CT", "ANG", "A"), Result: ModalityCTA},
		{ID: "code.ctv", Family: FamilyCT, Prefix: "CT", Match: angioCode("CT", "VEN", "V"), Result: ModalityCTV},
		{ID: "code.ct", Family: FamilyCT, Prefix: "CT", Match: codePrefix("CT"), Result: ModalityCT},
		{ID: "code.mra", Family: FamilyMR, Prefix: "MR", Match: angioCode("MR", "ANG", "A"), Result: ModalityMRA},
		{ID: "code.mrv", Family: FamilyMR, Prefix: "MR", Match: angioCode("MR", "VEN", "V"), Result: ModalityMRV},
		{ID: "code.mri", Family: FamilyMR, Prefix: "MR", Match: codePrefix("MR"), Result: ModalityMRI},
		{ID: "code.pet.petct", Family: FamilyPET, Prefix: "PET", Match: func(c string) bool {
			return (strings.HasPrefix(c, "PET") || strings.HasPrefix(c, "Z")) && strings.Contains(c, "PET") && strings.Contains(c, "CT")
		}, Result: ModalityPETCT},
		{ID: "code.pet", Family: FamilyPET, Prefix: "PET", Match: func(c string) bool {
			return (strings.HasPrefix(c, "PET") || strings.HasPrefix(c, "Z")) && strings.Contains(c, "PET")
		}, Result: ModalityPET},
		{ID: "code.xr", Family: FamilyXR, Prefix: "XR", Match: codePrefix("XR"), Result: ModalityRadiography},
		{ID: "code.ax", Family: FamilyXR, Prefix: "AX", Match: codePrefix("AX"), Result: ModalityRadiography},
		{ID: "code.rt", Family: FamilyRT, Prefix: "RT", Match: codePrefix("RT"), Result: ModalityRadiography},
		{ID: "code.nm", Family: FamilyNM, Prefix: "NM", Match: codePrefix("NM"), Result: ModalityNuclearMedicine},
		{ID: "code.fl", Family: FamilyFL, Prefix: "FL", Match: codePrefix("FL"), Result: ModalityFluoroscopy},
		{ID: "code.us", Family: FamilyUS, Prefix: "US", Match: codePrefix("US"), Result: ModalityUS},
		{ID: "code.mam", Family: FamilyMG, Prefix: "MAM", Match: codePrefix("MAM"), Result: ModalityMammography},
		{ID: "code.mg", Family: FamilyMG, Prefix: "MG", Match: codePrefix("MG"), Result: ModalityMammography},
		{ID: "code.z", Family: FamilyProc, Prefix: "Z", Match: codePrefix("Z"), Result: ModalityInvasive, Ambiguous: true},
	}
}

// ambiguousCodeRules re-derive the modality of a generic procedure code from
// its description. No match keeps the family default (Invasive).
func ambiguousCodeRules() []ModalityRule {
	return []ModalityRule{
		{ID: "code.z.pet", Match: has(kw(`PET`, `POSITRON`)), Result: ModalityPET, Variants: []ModalityVariant{
			{Match: has(kw(`PET/CT`, `PET CT`, `PET-CT`, `PETCT`)), Result: ModalityPETCT},
		}},
		{ID: "code.z.nm", Match: allOf(nmIndicator, not(competingModality)), Result: ModalityNuclearMedicine},
		{ID: "code.z.nm-headneck", Match: allOf(headNeckNM, procedural, not(competingModality), not(invasiveStop)), Result: ModalityNuclearMedicine},
	}
}

func codeRegionRules() map[CodeFamily][]CodeRegionRule {
	capRegions := NewRegions(RegionChest, RegionAbdomen, RegionPelvis)
	ap := NewRegions(RegionAbdomen, RegionPelvis)
	upper := NewRegions(RegionUpperExtremity)
	lower := NewRegions(RegionLowerExtremity)

	return map[CodeFamily][]CodeRegionRule{
		FamilyCT: {
			// Combination studies are not reliably encoded in short codes.
			{ID: "code.ct.desc-cap", Match: descHas(comboCAP), Regions: capRegions},
			{ID: "code.ct.desc-ap", Match: descHas(comboAP), Regions: ap},
			{ID: "code.ct.cap", Match: codeHas("CH", "AB", "PE"), Regions: capRegions},
			{ID: "code.ct.ap", Match: codeHas("AB", "PE"), Regions: ap},
			{ID: "code.ct.ca", Match: codeHas("CH", "AB"), Regions: NewRegions(RegionChest, RegionAbdomen)},
			{ID: "code.ct.chest", Match: codeHas("CH"), Regions: NewRegions(RegionChest)},
			{ID: "code.ct.head", Match: codeHas("HD|HEAD|NECK|BRN"), Regions: NewRegions(RegionHeadNeck)},
			{ID: "code.ct.abdomen", Match: codeHas("AB"), Regions: NewRegions(RegionAbdomen)},
			{ID: "code.ct.pelvis", Match: codeHas("PE"), Regions: NewRegions(RegionPelvis)},
			{ID: "code.ct.spine", Match: codeHas("CSP|TSP|LSP|SPN"), Regions: NewRegions(RegionSpine)},
			{ID: "code.ct.angio", Match: codeHas("ANG"), Regions: NewRegions(RegionVascular)},
		},
		FamilyMR: {
			{ID: "code.mr.knee", Match: codeHas("KN"), Regions: lower},
			{ID: "code.mr.hip", Match: codeHas("HIP"), Regions: lower},
			{ID: "code.mr.shoulder", Match: codeHas("SH"), Regions: upper},
			{ID: "code.mr.breast", Match: codeHas("BRE|BRST"), Regions: NewRegions(RegionBreast)},
			{ID: "code.mr.head", Match: codeHas("HD|HEAD|BR|HI"), Regions: NewRegions(RegionHeadNeck)},
			{ID: "code.mr.spine", Match: codeHas("CS|TS|LS|SP"), Regions: NewRegions(RegionSpine)},
			{ID: "code.mr.abdomen", Match: codeHas("AB"), Regions: NewRegions(RegionAbdomen)},
			{ID: "code.mr.pelvis", Match: codeHas("PE"), Regions: NewRegions(RegionPelvis)},
		},
		FamilyXR: {
			{ID: "code.xr.chest", Match: codeHas("CH"), Regions: NewRegions(RegionChest)},
			{ID: "code.xr.abdomen", Match: codeHas("AB"), Regions: NewRegions(RegionAbdomen)},
		},
		FamilyRT: {
			{ID: "code.rt.hip", Match: codeHas("HIP"), Regions: lower},
			{ID: "code.rt.chest", Match: codeHas("CH"), Regions: NewRegions(RegionChest)},
			{ID: "code.rt.hand", Match: codeHas("HI|HA"), Regions: upper},
			{ID: "code.rt.shoulder", Match: codeHas("SH"), Regions: upper},
			{ID: "code.rt.elbow", Match: codeHas("EL"), Regions: upper},
			{ID: "code.rt.wrist", Match: codeHas("WR"), Regions: upper},
			{ID: "code.rt.knee", Match: codeHas("KN"), Regions: lower},
			{ID: "code.rt.foot", Match: codeHas("FO|AN"), Regions: lower},
			{ID: "code.rt.femur", Match: codeHas("FE"), Regions: lower},
			{ID: "code.rt.tibia", Match: codeHas("TI"), Regions: lower},
			{ID: "code.rt.pelvis", Match: codeHas("PE"), Regions: NewRegions(RegionPelvis)},
			{ID: "code.rt.clavicle", Match: codeHas("CL"), Regions: upper},
			{ID: "code.rt.lspine", Match: codeHas("LS"), Regions: NewRegions(RegionSpine)},
			{ID: "code.rt.leg", Match: codeHas("PR|PO"), Regions: lower},
		},
		FamilyNM: {
			{ID: "code.nm.liver", Match: codeOrDesc(codeHas("HIDA"), contains("HEPATOBILIARY")), Regions: NewRegions(RegionLiver)},
			{ID: "code.nm.renal", Match: codeHas("KID|RENAL|MAG3"), Regions: NewRegions(RegionRenal)},
			{ID: "code.nm.lung", Match: codeHas("LUNG|VEN|PERF"), Regions: NewRegions(RegionChest)},
			{ID: "code.nm.bone", Match: codeOrDesc(codeHas("BJTOT|BONE"), contains("BONE")), Regions: NewRegions(RegionWholeBody)},
			{ID: "code.nm.gastric", Match: codeOrDesc(codeHas("GES"), contains("GASTRIC")), Regions: NewRegions(RegionStomach)},
			{ID: "code.nm.thyroid", Match: codeOrDesc(codeHas("THY"), contains("THYROID")), Regions: NewRegions(RegionHeadNeck)},
		},
	}
}

func descModalityRules() []ModalityRule {
	return []ModalityRule{
		{ID: "desc.pet", Match: has(kw(`PET`, `PET/CT`, `PETCT`, `POSITRON`)), Result: ModalityPET, Variants: []ModalityVariant{
			{Match: has(kw(`PET/CT`, `PET CT`, `PET-CT`, `PETCT`)), Result: ModalityPETCT},
		}},
		{ID: "desc.mra", Match: anyOf(has(kw(`MRA`)), allOf(kwMR, kwAngio)), Result: ModalityMRA},
		{ID: "desc.mrv", Match: anyOf(has(kw(`MRV`)), allOf(kwMR, kwVeno)), Result: ModalityMRV},
		{ID: "desc.mri", Match: kwMR, Result: ModalityMRI},
		{ID: "desc.cta", Match: anyOf(has(kw(`CTA`)), allOf(kwCT, kwAngio)), Result: ModalityCTA},
		{ID: "desc.ctv", Match: anyOf(has(kw(`CTV`)), allOf(kwCT, kwVeno)), Result: ModalityCTV},
		{ID: "desc.ct", Match: kwCT, Result: ModalityCT},
		{ID: "desc.nm", Match: nmExplicit, Result: ModalityNuclearMedicine},
		{ID: "desc.nm-exam", Match: allOf(nmExamTypes, not(usOrXR)), Result: ModalityNuclearMedicine},
		{ID: "desc.us", Match: has(kw(`US`, `ULTRASOUND`, `SONOGRA\w*`, `DUPLEX`, `DUP`, `DOPPLER`)), Result: ModalityUS, Variants: []ModalityVariant{
			{Match: has(kw(`DUPLEX`, `DUP`)), Result: ModalityUSDuplex},
			{Match: has(kw(`OBSTETRICAL`, `OBSTETRIC`, `PREGNANCY`, `OB`)), Result: ModalityUSObstetrical},
			{Match: has(kw(`PROCEDURE`, `GUIDANCE`, `GUIDED`)), Result: ModalityUSProcedure},
		}},
		{ID: "desc.xr", Match: has(kw(`XR`, `X-RAY`, `XRAY`, `RADIOGRAPH\w*`)), Result: ModalityRadiography},
		{ID: "desc.xr-anatomy", Match: allOf(xrAnatomy, not(xrCompeting)), Result: ModalityRadiography},
		{ID: "desc.fluoro", Match: has(kw(`FL`, `FLUORO\w*`, `BARIUM`, `LUMBAR PUNCTURE`, `SP`, `ESOPHAGRAM`, `ARTHROGRA\w*`, `MYELOGRA\w*`)), Result: ModalityFluoroscopy, Variants: []ModalityVariant{
			{Match: has(kw(`DYNAMIC`)), Result: ModalityFluoroscopyDynamic},
			{Match: has(kw(`GUIDANCE`, `GUIDED`)), Result: ModalityFluoroscopyGuidance},
		}},
		{ID: "desc.mammo", Match: has(kw(`MAMMO\w*`, `BREASTS?`, `TOMOSYNTHESIS`)), Result: ModalityMammography, Variants: []ModalityVariant{
			{Match: has(kw(`PROCEDURE`, `BIOPSY`, `LOCALIZATION`)), Result: ModalityMammographyProcedure},
		}},
		{ID: "desc.echo", Match: has(kw(`ECHO\w*`, `TTE`, `TEE`)), Result: ModalityEchocardiography},
		{ID: "desc.nm-injection", Match: allOf(anyOf(radioactive, injection), procedural, not(competingModality)), Result: ModalityNuclearMedicine},
		{ID: "desc.nm-headneck", Match: allOf(headNeckNM, procedural, not(competingModality), not(invasiveStop)), Result: ModalityNuclearMedicine},
		{ID: "desc.invasive", Match: allOf(invasive, not(nmIndicator)), Result: ModalityInvasive},
	}
}

var (
	comboChest   = has(kw(`CHEST`))
	comboAbdomen = has(kw(`ABDOMEN`, `ABDOMINAL`, `ABD`))
	comboPelvis  = has(kw(`PELVIS`, `PELVIC`))

	comboCAP = allOf(comboChest, comboAbdomen, comboPelvis)
	comboAP  = allOf(comboAbdomen, comboPelvis)
)

func regionComboRules() []RegionRule {
	return []RegionRule{
		{ID: "region.combo.cap", Match: comboCAP, Regions: NewRegions(RegionChest, RegionAbdomen, RegionPelvis)},
		{ID: "region.combo.ap", Match: comboAP, Regions: NewRegions(RegionAbdomen, RegionPelvis)},
		{ID: "region.combo.skull-thigh", Match: has(re(`\b(?:SKULL|EYES?|VERTEX)\b.*\bTHIGHS?\b`)), Regions: NewRegions(RegionWholeBody)},
	}
}

func regionSingleRules() []RegionRule {
	return []RegionRule{
		{ID: "region.head-neck", Match: has(kw(`HEAD`, `NECK`, `BRAIN`, `SKULL`, `ORBITS?`, `FACIAL`, `FACE`, `SINUS(?:ES)?`, `TEMPORAL`, `PITUITARY`, `CRANIAL`, `IAC`, `MANDIBLE`, `NASAL`, `THYROID`, `PAROTID`)), Regions: NewRegions(RegionHeadNeck)},
		{ID: "region.chest", Match: has(kw(`CHEST`, `LUNGS?`, `THORAX`, `RIBS?`, `STERNUM`, `PULMONARY`)), Regions: NewRegions(RegionChest)},
		{ID: "region.abdomen", Match: has(kw(`ABDOMEN`, `ABDOMINAL`, `ABD`, `KUB`)), Regions: NewRegions(RegionAbdomen)},
		{ID: "region.pelvis", Match: has(kw(`PELVIS`, `PELVIC`)), Regions: NewRegions(RegionPelvis)},
		{ID: "region.spine", Match: has(kw(`SPINE`, `LUMBOSACRAL`, `L[- ]SPINE`, `T[- ]SPINE`, `C[- ]SPINE`, `CERVICAL`, `THORACIC`, `LUMBAR`, `SACRUM`, `COCCYX`)), Regions: NewRegions(RegionSpine)},
		{ID: "region.upper-extremity", Match: has(kw(`SHOULDERS?`, `ELBOWS?`, `WRISTS?`, `HANDS?`, `FINGERS?`, `THUMBS?`, `HUMERUS`, `FOREARMS?`, `CLAVICLES?`, `ARMS?`, `SCAPULA`, `UPPER EXT\w*`)), Regions: NewRegions(RegionUpperExtremity)},
		{ID: "region.lower-extremity", Match: has(kw(`HIPS?`, `KNEES?`, `ANKLES?`, `FOOT`, `FEET`, `TOES?`, `FEMUR`, `TIBIA`, `FIBULA`, `THIGHS?`, `LEGS?`, `CALCANEUS`, `LOWER EXT\w*`)), Regions: NewRegions(RegionLowerExtremity)},
		{ID: "region.breast", Match: has(kw(`BREASTS?`, `MAMMO\w*`, `TOMOSYNTHESIS`)), Regions: NewRegions(RegionBreast)},
		{ID: "region.renal", Match: has(kw(`RENAL`, `KIDNEYS?`)), Regions: NewRegions(RegionRenal)},
		{ID: "region.cardiac", Match: has(kw(`CARDIAC`, `HEART`, `ECHO\w*`, `CORONARY`, `MYOCARDIAL`)), Regions: NewRegions(RegionCardiac)},
		{ID: "region.vascular", Match: has(kw(`CAROTIDS?`, `ARTERIAL`, `VENOUS`, `VEINS?`, `ARTERY`, `ARTERIES`, `AORTA`, `AORTIC`)), Regions: NewRegions(RegionVascular)},
		{ID: "region.liver", Match: has(kw(`LIVER`, `HEPATOBILIARY`, `HEPATIC`, `HIDA`)), Regions: NewRegions(RegionLiver)},
		{ID: "region.spleen", Match: has(kw(`SPLEEN`, `SPLENIC`)), Regions: NewRegions(RegionSpleen)},
		{ID: "region.stomach", Match: has(kw(`STOMACH`, `GASTRIC`, `ESOPHAGUS`, `ESOPHAGRAM`, `SWALLOW`)), Regions: NewRegions(RegionStomach)},
		{ID: "region.whole-body", Match: has(kw(`WHOLE BODY`, `BONE SCAN`, `TUMOR IMAGING`)), Regions: NewRegions(RegionWholeBody)},
	}
}

// regionNMRules infer a region from nuclear-medicine exam wording when no
// anatomical term matched.
func regionNMRules() []RegionRule {
	liverish := has(kw(`HEPATOBILIARY`, `HIDA`, `LIVER`, `SPLEEN`))
	return []RegionRule{
		{ID: "region.nm.renal", Match: has(kw(`RENAL`, `KIDNEYS?`, `MAG3`)), Regions: NewRegions(RegionRenal)},
		{ID: "region.nm.lung", Match: has(kw(`LUNGS?`, `VENT`, `VENTILATION`, `PERF`, `PERFUSION`, `V/Q`, `VQ`)), Regions: NewRegions(RegionChest)},
		{ID: "region.nm.bone", Match: has(kw(`BONE SCAN`, `3 PHASE BONE`, `THREE PHASE BONE`)), Regions: NewRegions(RegionWholeBody)},
		{ID: "region.nm.liver-spleen", Match: allOf(liverish, contains("SPLEEN")), Regions: NewRegions(RegionLiver, RegionSpleen)},
		{ID: "region.nm.liver", Match: liverish, Regions: NewRegions(RegionLiver)},
		{ID: "region.nm.gastric", Match: has(kw(`GASTRIC EMPTYING`, `STOMACH`)), Regions: NewRegions(RegionStomach)},
		{ID: "region.nm.swallow", Match: has(kw(`BARIUM SWALLOW`, `ESOPHAGUS`)), Regions: NewRegions(RegionStomach)},
	}
}

func regionCatchAllRules() []RegionRule {
	return []RegionRule{
		{ID: "region.catch.chest", Match: contains("CHEST"), Regions: NewRegions(RegionChest)},
		{ID: "region.catch.body-scan", Match: allOf(has(kw(`SCAN`)), anyOf(contains("WHOLE"), contains("BODY"))), Regions: NewRegions(RegionWholeBody)},
		{ID: "region.catch.access", Match: has(kw(`PORTACATH`, `PORT-A-CATH`, `ACCESS`)), Regions: NewRegions(RegionVascular)},
	}
}

const (
	ContrastWithAndWithout = "w/ and w/o Contrast"
	ContrastWithout        = "w/o Contrast"
	ContrastWith           = "w/ Contrast"
)

func contrastRules() []ContrastRule {
	return []ContrastRule{
		{ID: "contrast.both", Match: anyOf(
			has(re(`\bWITH(?:\s+AND|\s*&|\s*/)?\s*WITHOUT\b`)),
			has(re(`\bWITHOUT\s+(?:AND|&)\s+WITH\b`)),
			has(re(`\bW/.*\bAND\b.*\bW/?O\b`)),
			has(re(`\bW/?\s*(?:&|\+|/)\s*W/?O\b`)),
			has(re(`\bW/?O\s*(?:AND|&|\+|/)\s*W\b`)),
			has(re(`\bW/?\s*WO\b`)),
		), Phrase: ContrastWithAndWithout},
		{ID: "contrast.without", Match: has(re(`\bWITHOUT\b|\bW/O\b|\bWO\b`)), Phrase: ContrastWithout},
		{ID: "contrast.with", Match: has(re(`\bWITH\b|\bW/|\bW\b`)), Phrase: ContrastWith},
	}
}

// RuleInfo describes one rule for inspection.
type RuleInfo struct {
	Table  string `json:"table"`
	Order  int    `json:"order"`
	ID     string `json:"id"`
	Result string `json:"result"`
}

// Describe lists every rule in evaluation order.
func (rs *RuleSet) Describe() []RuleInfo {
	var out []RuleInfo
	add := func(table string, i int, id, result string) {
		out = append(out, RuleInfo{Table: table, Order: i + 1, ID: id, Result: result})
	}
	for i, r := range rs.CodeModality {
		add("code_modality", i, r.ID, string(r.Result))
	}
	for i, r := range rs.AmbiguousCode {
		add("ambiguous_code", i, r.ID, string(r.Result))
	}
	for _, fam := range []CodeFamily{FamilyCT, FamilyMR, FamilyXR, FamilyRT, FamilyNM} {
		for i, r := range rs.CodeRegion[fam] {
			add("code_region."+string(fam), i, r.ID, r.Regions.String())
		}
	}
	for i, r := range rs.DescModality {
		add("description_modality", i, r.ID, string(r.Result))
	}
	for i, r := range rs.RegionCombos {
		add("region_combination", i, r.ID, r.Regions.String())
	}
	for i, r := range rs.RegionSingles {
		add("region_single", i, r.ID, r.Regions.String())
	}
	for i, r := range rs.RegionNM {
		add("region_nuclear", i, r.ID, r.Regions.String())
	}
	for i, r := range rs.RegionCatchAll {
		add("region_catch_all", i, r.ID, r.Regions.String())
	}
	for i, r := range rs.Contrast {
		add("contrast", i, r.ID, r.Phrase)
	}
	return out
}
