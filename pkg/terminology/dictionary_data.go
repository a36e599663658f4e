package terminology

import "github.com/OFFIS-RIT/medgraph/backend/pkg/common"

var defaultEntries = []Entry{
	// Conditions
	{
		System: SystemSNOMED, Code: "22298006", Display: "Myocardial infarction",
		Category: "disorder", EntityType: common.EntityCondition,
		AltCodes:      []Code{{System: SystemICD10, Code: "I21.9"}},
		Synonyms:      []string{"heart attack", "myocardial infarct", "cardiac infarction", "infarction of heart"},
		Abbreviations: []string{"MI"},
		HintTypes:     []common.EntityType{common.EntitySymptom, common.EntityLabValue},
		HintTerms:     []string{"troponin", "chest pain", "stemi", "ecg", "infarct"},
	},
	{
		System: SystemSNOMED, Code: "48724000", Display: "Mitral valve regurgitation",
		Category: "disorder", EntityType: common.EntityCondition,
		Synonyms:      []string{"mitral regurgitation", "mitral insufficiency", "mitral valve insufficiency"},
		Abbreviations: []string{"MR", "MI"},
		HintTypes:     []common.EntityType{common.EntityBodyPart, common.EntityProcedure},
		HintTerms:     []string{"murmur", "valve", "echo", "regurgita", "mitral"},
	},
	{
		System: SystemSNOMED, Code: "73211009", Display: "Diabetes mellitus",
		Category: "disorder", EntityType: common.EntityCondition,
		AltCodes:      []Code{{System: SystemICD10, Code: "E11.9"}},
		Synonyms:      []string{"diabetes", "sugar diabetes"},
		Abbreviations: []string{"DM"},
	},
	{
		System: SystemSNOMED, Code: "44054006", Display: "Type 2 diabetes mellitus",
		Category: "disorder", EntityType: common.EntityCondition,
		Synonyms:      []string{"type 2 diabetes", "type ii diabetes", "diabetes mellitus type 2", "adult-onset diabetes"},
		Abbreviations: []string{"T2DM", "DM2"},
	},
	{
		System: SystemSNOMED, Code: "38341003", Display: "Hypertensive disorder",
		Category: "disorder", EntityType: common.EntityCondition,
		AltCodes:      []Code{{System: SystemICD10, Code: "I10"}},
		Synonyms:      []string{"hypertension", "high blood pressure", "elevated blood pressure"},
		Abbreviations: []string{"HTN"},
	},
	{
		System: SystemSNOMED, Code: "24700007", Display: "Multiple sclerosis",
		Category: "disorder", EntityType: common.EntityCondition,
		Abbreviations: []string{"MS"},
		HintTypes:     []common.EntityType{common.EntitySymptom, common.EntityCondition},
		HintTerms:     []string{"relaps", "lesion", "neuro", "demyelinat", "mri", "numbness"},
	},
	{
		System: SystemSNOMED, Code: "79619009", Display: "Mitral valve stenosis",
		Category: "disorder", EntityType: common.EntityCondition,
		Synonyms:      []string{"mitral stenosis"},
		Abbreviations: []string{"MS"},
		HintTypes:     []common.EntityType{common.EntityBodyPart, common.EntityProcedure},
		HintTerms:     []string{"murmur", "valve", "echo", "mitral", "diastolic"},
	},
	{
		System: SystemSNOMED, Code: "69896004", Display: "Rheumatoid arthritis",
		Category: "disorder", EntityType: common.EntityCondition,
		Abbreviations: []string{"RA"},
		HintTypes:     []common.EntityType{common.EntityMedication, common.EntityCondition},
		HintTerms:     []string{"joint", "arthritis", "methotrexate", "synovitis", "stiffness"},
	},
	{
		System: SystemSNOMED, Code: "195967001", Display: "Asthma",
		Category: "disorder", EntityType: common.EntityCondition,
		AltCodes: []Code{{System: SystemICD10, Code: "J45.909"}},
		Synonyms: []string{"bronchial asthma"},
	},
	{
		System: SystemSNOMED, Code: "13645005", Display: "Chronic obstructive lung disease",
		Category: "disorder", EntityType: common.EntityCondition,
		Synonyms:      []string{"chronic obstructive pulmonary disease"},
		Abbreviations: []string{"COPD"},
	},
	{
		System: SystemSNOMED, Code: "84114007", Display: "Heart failure",
		Category: "disorder", EntityType: common.EntityCondition,
		Synonyms:      []string{"cardiac failure", "congestive heart failure"},
		Abbreviations: []string{"CHF", "HF"},
	},
	{
		System: SystemSNOMED, Code: "233604007", Display: "Pneumonia",
		Category: "disorder", EntityType: common.EntityCondition,
	},

	// Symptoms and findings
	{
		System: SystemSNOMED, Code: "29857009", Display: "Chest pain",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"thoracic pain", "pain in chest"},
	},
	{
		System: SystemSNOMED, Code: "267036007", Display: "Dyspnea",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms:      []string{"shortness of breath", "breathlessness", "dyspnoea", "difficulty breathing"},
		Abbreviations: []string{"SOB"},
	},
	{
		System: SystemSNOMED, Code: "386661006", Display: "Fever",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"pyrexia", "febrile"},
	},
	{
		System: SystemSNOMED, Code: "25064002", Display: "Headache",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"cephalalgia", "head pain"},
	},
	{
		System: SystemSNOMED, Code: "84229001", Display: "Fatigue",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"tiredness", "lethargy"},
	},
	{
		System: SystemSNOMED, Code: "422587007", Display: "Nausea",
		Category: "finding", EntityType: common.EntitySymptom,
	},
	{
		System: SystemSNOMED, Code: "28743005", Display: "Productive cough",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"wet cough"},
	},
	{
		System: SystemSNOMED, Code: "49727002", Display: "Cough",
		Category: "finding", EntityType: common.EntitySymptom,
	},
	{
		System: SystemSNOMED, Code: "271807003", Display: "Eruption of skin",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"rash", "skin rash"},
	},
	{
		System: SystemSNOMED, Code: "249944006", Display: "Polyuria",
		Category: "finding", EntityType: common.EntitySymptom,
		Synonyms: []string{"frequent urination"},
	},

	// Medications
	{
		System: SystemRxNorm, Code: "6809", Display: "Metformin",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms: []string{"metformin hydrochloride", "glucophage"},
	},
	{
		System: SystemRxNorm, Code: "7052", Display: "Morphine",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms:      []string{"morphine sulfate"},
		Abbreviations: []string{"MS", "MSO4"},
		HintTypes:     []common.EntityType{common.EntityMedication, common.EntityProcedure},
		HintTerms:     []string{"mg", "dose", "iv", "analges", "prn", "opioid"},
	},
	{
		System: SystemRxNorm, Code: "1191", Display: "Aspirin",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms:      []string{"acetylsalicylic acid"},
		Abbreviations: []string{"ASA"},
	},
	{
		System: SystemRxNorm, Code: "29046", Display: "Lisinopril",
		Category: "clinical drug", EntityType: common.EntityMedication,
	},
	{
		System: SystemRxNorm, Code: "5640", Display: "Ibuprofen",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms: []string{"advil", "motrin"},
	},
	{
		System: SystemRxNorm, Code: "5856", Display: "Insulin",
		Category: "clinical drug", EntityType: common.EntityMedication,
	},
	{
		System: SystemRxNorm, Code: "6851", Display: "Methotrexate",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Abbreviations: []string{"MTX"},
	},
	{
		System: SystemRxNorm, Code: "435", Display: "Albuterol",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms: []string{"salbutamol", "ventolin"},
	},
	{
		System: SystemRxNorm, Code: "83367", Display: "Atorvastatin",
		Category: "clinical drug", EntityType: common.EntityMedication,
		Synonyms: []string{"lipitor"},
	},

	// Procedures
	{
		System: SystemSNOMED, Code: "232717009", Display: "Coronary artery bypass grafting",
		Category: "procedure", EntityType: common.EntityProcedure,
		Synonyms:      []string{"coronary artery bypass graft", "bypass surgery"},
		Abbreviations: []string{"CABG"},
	},
	{
		System: SystemSNOMED, Code: "80146002", Display: "Appendectomy",
		Category: "procedure", EntityType: common.EntityProcedure,
		Synonyms: []string{"appendicectomy"},
	},
	{
		System: SystemSNOMED, Code: "29303009", Display: "Electrocardiographic procedure",
		Category: "procedure", EntityType: common.EntityProcedure,
		Synonyms:      []string{"electrocardiogram", "electrocardiography"},
		Abbreviations: []string{"ECG", "EKG"},
	},
	{
		System: SystemSNOMED, Code: "40701008", Display: "Echocardiography",
		Category: "procedure", EntityType: common.EntityProcedure,
		Synonyms:      []string{"echocardiogram"},
		Abbreviations: []string{"echo", "TTE"},
	},
	{
		System: SystemSNOMED, Code: "399208008", Display: "Plain chest X-ray",
		Category: "procedure", EntityType: common.EntityProcedure,
		Synonyms:      []string{"chest x-ray", "chest radiograph"},
		Abbreviations: []string{"CXR"},
	},

	// Body structures
	{
		System: SystemSNOMED, Code: "80891009", Display: "Heart structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms: []string{"heart"},
	},
	{
		System: SystemSNOMED, Code: "73829009", Display: "Right atrial structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms:      []string{"right atrium"},
		Abbreviations: []string{"RA"},
		HintTypes:     []common.EntityType{common.EntityBodyPart, common.EntityProcedure},
		HintTerms:     []string{"atri", "echo", "enlarg", "dilat", "cardiac"},
	},
	{
		System: SystemSNOMED, Code: "51185008", Display: "Thoracic structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms: []string{"chest", "thorax"},
	},
	{
		System: SystemSNOMED, Code: "39607008", Display: "Lung structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms: []string{"lung", "lungs"},
	},
	{
		System: SystemSNOMED, Code: "69536005", Display: "Head structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms: []string{"head"},
	},
	{
		System: SystemSNOMED, Code: "64033007", Display: "Kidney structure",
		Category: "body structure", EntityType: common.EntityBodyPart,
		Synonyms: []string{"kidney", "kidneys", "renal"},
	},

	// Laboratory observables
	{
		System: SystemLOINC, Code: "4548-4", Display: "Hemoglobin A1c",
		Category: "observable entity", EntityType: common.EntityLabValue,
		Synonyms:      []string{"glycated hemoglobin", "hemoglobin a1c", "haemoglobin a1c"},
		Abbreviations: []string{"HbA1c", "A1c"},
	},
	{
		System: SystemLOINC, Code: "2345-7", Display: "Glucose",
		Category: "observable entity", EntityType: common.EntityLabValue,
		Synonyms: []string{"blood glucose", "serum glucose", "blood sugar"},
	},
	{
		System: SystemLOINC, Code: "6598-7", Display: "Troponin T",
		Category: "observable entity", EntityType: common.EntityLabValue,
		Synonyms: []string{"troponin", "cardiac troponin"},
	},
	{
		System: SystemLOINC, Code: "2160-0", Display: "Creatinine",
		Category: "observable entity", EntityType: common.EntityLabValue,
		Synonyms: []string{"serum creatinine"},
	},
}
