package types

// DataFields centralizes the column and metadata field names used across
// the ingestion pipeline, the document store and the cleanse rules.
// Dataset columns are case-sensitive and match the source CSV headers.
const (
	// Source columns shared by the CTS and SAM holding datasets.
	FieldCph                = "CPH"
	FieldLidFullIdentifier  = "LID_FULL_IDENTIFIER"
	FieldAnimalSpeciesCode  = "ANIMAL_SPECIES_CODE"
	FieldFeatureName        = "FEATURE_NAME"
	FieldAdrName            = "ADR_NAME"
	FieldEmailAddress       = "EMAIL_ADDRESS"
	FieldPhoneNumber        = "PHONE_NUMBER"
	FieldChangeType         = "CHANGETYPE"

	// Metadata fields stamped onto every stored record by ingestion.
	FieldIsDeleted    = "IsDeleted"
	FieldCreatedAtUtc = "CreatedAtUtc"
	FieldUpdatedAtUtc = "UpdatedAtUtc"
	FieldBatchID      = "BatchId"
)

// MultiValueSeparator joins multi-valued source cells (email and phone
// columns carry zero or more values in a single cell).
const MultiValueSeparator = ";"

// SpeciesCattle is the SAM species code for cattle units.
const SpeciesCattle = "CTT"

// Well-known document store collections.
const (
	CollectionImports           = "imports"
	CollectionFileReports       = "file_reports"
	CollectionCleanseOperations = "cleanse_operations"
	CollectionCleanseIssues     = "cleanse_issues"
	CollectionIssueHistory      = "cleanse_issue_history"
)

// User-metadata keys written on internal store objects.
const (
	MetaKeyMD5      = "x-kd-md5"
	MetaKeyDataset  = "x-kd-dataset"
	MetaKeyImportID = "x-kd-import-id"
)
