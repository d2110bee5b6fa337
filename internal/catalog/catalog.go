// Package catalog holds the static deal pipeline definition: the ordered
// stage list, exit guards, exit roles, the task-type to guard mapping and
// the document type registry. It is read-only at runtime; the engine never
// mutates it.
package catalog

import (
	"fmt"
	"strings"
)

// Role identifies a staff role that can own stages and exit transitions.
type Role string

const (
	RoleOpManager   Role = "OP_MANAGER"
	RoleOperator    Role = "OPERATOR"
	RoleSupport     Role = "SUPPORT"
	RoleRiskManager Role = "RISK_MANAGER"
	RoleFinance     Role = "FINANCE"
	RoleInvestor    Role = "INVESTOR"
	RoleLegal       Role = "LEGAL"
	RoleAccounting  Role = "ACCOUNTING"
	RoleAdmin       Role = "ADMIN"
	RoleClient      Role = "CLIENT"
)

// Roles lists every known role.
var Roles = []Role{
	RoleOpManager, RoleOperator, RoleSupport, RoleRiskManager, RoleFinance,
	RoleInvestor, RoleLegal, RoleAccounting, RoleAdmin, RoleClient,
}

// SupervisorRoles may initiate a transition out of any stage regardless of
// the stage's exit role.
var SupervisorRoles = []Role{RoleAdmin, RoleOpManager}

// IsSupervisor reports whether the role bypasses per-stage exit role checks.
func IsSupervisor(r Role) bool {
	for _, s := range SupervisorRoles {
		if s == r {
			return true
		}
	}
	return false
}

// KnownRole reports whether r is part of the registry.
func KnownRole(r Role) bool {
	for _, known := range Roles {
		if known == r {
			return true
		}
	}
	return false
}

// Stage keys in pipeline order.
const (
	StageNew             = "NEW"
	StageOfferPrep       = "OFFER_PREP"
	StageVehicleCheck    = "VEHICLE_CHECK"
	StageDocsCollect     = "DOCS_COLLECT"
	StageRiskReview      = "RISK_REVIEW"
	StageFinanceReview   = "FINANCE_REVIEW"
	StageInvestorPending = "INVESTOR_PENDING"
	StageContractPrep    = "CONTRACT_PREP"
	StageSigningFunding  = "SIGNING_FUNDING"
	StageVehicleDelivery = "VEHICLE_DELIVERY"
	StageActive          = "ACTIVE"
	StageCancelled       = "CANCELLED"
)

// Guard keys used by the stage catalogue.
const (
	GuardConfirmCar      = "tasks.confirmCar.completed"
	GuardQuotation       = "quotationPrepared"
	GuardVehicleVerified = "vehicle.verified"
	GuardDocsUploaded    = "docs.required.allUploaded"
	GuardRiskApproved    = "risk.approved"
	GuardFinanceApproved = "finance.approved"
	GuardInvestor        = "investor.approved"
	GuardContractReady   = "legal.contractReady"
	GuardAllSigned       = "esign.allSigned"
	GuardAdvanceReceived = "payments.advanceReceived"
	GuardSupplierPaid    = "payments.supplierPaid"
	GuardDelivered       = "delivery.confirmed"
)

// Guard is a single exit condition that gates leaving a stage.
type Guard struct {
	Key              string
	Label            string
	Hint             string
	RequiresDocument bool
	// RequiredTypes, when set, delegates fulfillment to the document
	// checklist: every listed type needs at least one matching upload.
	RequiredTypes []string
}

// Stage is one node of the fixed deal pipeline.
type Stage struct {
	Key         string
	Title       string
	Description string
	OwnerRole   Role
	SLALabel    string
	SLAHours    int
	// EntryActions are the human work items the stage opens with; the
	// engine creates one task per exit guard when the stage is entered.
	EntryActions []string
	ExitGuards   []Guard
	// ExitRole is the role allowed to move the deal out of this stage.
	// Empty for terminal stages.
	ExitRole Role
}

// Terminal reports whether the stage ends the pipeline.
func (s Stage) Terminal() bool {
	return s.Key == StageActive || s.Key == StageCancelled
}

// Stages is the pipeline in order. Transitions only ever advance one index
// at a time; CANCELLED is reachable from any non-terminal stage through the
// dedicated cancel operation only.
var Stages = []Stage{
	{
		Key:         StageNew,
		Title:       "New request",
		Description: "Incoming lease request, vehicle and client to be confirmed",
		OwnerRole:   RoleOpManager,
		SLALabel:    "4h",
		SLAHours:    4,
		EntryActions: []string{
			"Confirm the requested vehicle and seller with the client",
		},
		ExitGuards: []Guard{
			{Key: GuardConfirmCar, Label: "Vehicle confirmed with client", Hint: "Confirm make, model and seller before preparing an offer"},
		},
		ExitRole: RoleOpManager,
	},
	{
		Key:         StageOfferPrep,
		Title:       "Offer preparation",
		Description: "Prepare and attach the commercial quotation",
		OwnerRole:   RoleOpManager,
		SLALabel:    "1d",
		SLAHours:    24,
		EntryActions: []string{
			"Prepare the quotation and upload it to the deal",
		},
		ExitGuards: []Guard{
			{Key: GuardQuotation, Label: "Quotation prepared", Hint: "Upload the signed quotation document", RequiresDocument: true, RequiredTypes: []string{DocQuotation}},
		},
		ExitRole: RoleOpManager,
	},
	{
		Key:         StageVehicleCheck,
		Title:       "Vehicle check",
		Description: "Independent technical inspection of the vehicle",
		OwnerRole:   RoleOpManager,
		SLALabel:    "2d",
		SLAHours:    48,
		EntryActions: []string{
			"Book the technical inspection and attach the report",
		},
		ExitGuards: []Guard{
			{Key: GuardVehicleVerified, Label: "Vehicle verified", Hint: "Attach the technical inspection report", RequiresDocument: true, RequiredTypes: []string{DocTechnicalReport}},
		},
		ExitRole: RoleOpManager,
	},
	{
		Key:         StageDocsCollect,
		Title:       "Document collection",
		Description: "Collect the client's mandatory identity and income documents",
		OwnerRole:   RoleOpManager,
		SLALabel:    "3d",
		SLAHours:    72,
		EntryActions: []string{
			"Request and upload the client's required documents",
		},
		ExitGuards: []Guard{
			{Key: GuardDocsUploaded, Label: "All required documents uploaded", Hint: "Every mandatory document type needs at least one upload"},
		},
		ExitRole: RoleOpManager,
	},
	{
		Key:         StageRiskReview,
		Title:       "Risk review",
		Description: "Credit bureau check and internal risk assessment",
		OwnerRole:   RoleRiskManager,
		SLALabel:    "1d",
		SLAHours:    24,
		EntryActions: []string{
			"Run the credit bureau check and record the risk decision",
		},
		ExitGuards: []Guard{
			{Key: GuardRiskApproved, Label: "Risk approved", Hint: "Risk manager sign-off on the credit check"},
		},
		ExitRole: RoleRiskManager,
	},
	{
		Key:         StageFinanceReview,
		Title:       "Finance review",
		Description: "Financial calculation and internal funding approval",
		OwnerRole:   RoleFinance,
		SLALabel:    "1d",
		SLAHours:    24,
		EntryActions: []string{
			"Run the financial calculation and approve the funding plan",
		},
		ExitGuards: []Guard{
			{Key: GuardFinanceApproved, Label: "Finance approved", Hint: "Finance sign-off on the calculation"},
		},
		ExitRole: RoleFinance,
	},
	{
		Key:         StageInvestorPending,
		Title:       "Investor approval",
		Description: "External investor confirmation of the funding",
		OwnerRole:   RoleInvestor,
		SLALabel:    "2d",
		SLAHours:    48,
		EntryActions: []string{
			"Obtain the investor's approval for the deal",
		},
		ExitGuards: []Guard{
			{Key: GuardInvestor, Label: "Investor approved", Hint: "Investor confirmation recorded"},
		},
		ExitRole: RoleInvestor,
	},
	{
		Key:         StageContractPrep,
		Title:       "Contract preparation",
		Description: "Draft and verify the lease contract",
		OwnerRole:   RoleLegal,
		SLALabel:    "2d",
		SLAHours:    48,
		EntryActions: []string{
			"Prepare the lease contract and upload the final draft",
		},
		ExitGuards: []Guard{
			{Key: GuardContractReady, Label: "Contract ready", Hint: "Upload the final contract draft", RequiresDocument: true, RequiredTypes: []string{DocContract}},
		},
		ExitRole: RoleLegal,
	},
	{
		Key:         StageSigningFunding,
		Title:       "Signing and funding",
		Description: "E-signature round, advance collection and supplier payment",
		OwnerRole:   RoleFinance,
		SLALabel:    "3d",
		SLAHours:    72,
		EntryActions: []string{
			"Collect all e-signatures",
			"Confirm receipt of the client advance",
			"Pay the vehicle supplier",
		},
		ExitGuards: []Guard{
			{Key: GuardAllSigned, Label: "All parties signed", Hint: "Every signer completed the e-signature round"},
			{Key: GuardAdvanceReceived, Label: "Advance received", Hint: "Client advance payment confirmed"},
			{Key: GuardSupplierPaid, Label: "Supplier paid", Hint: "Supplier payment executed and confirmed"},
		},
		ExitRole: RoleFinance,
	},
	{
		Key:         StageVehicleDelivery,
		Title:       "Vehicle delivery",
		Description: "Hand the vehicle over to the client",
		OwnerRole:   RoleOpManager,
		SLALabel:    "2d",
		SLAHours:    48,
		EntryActions: []string{
			"Arrange delivery and confirm the handover",
		},
		ExitGuards: []Guard{
			{Key: GuardDelivered, Label: "Delivery confirmed", Hint: "Client confirmed receipt of the vehicle"},
		},
		ExitRole: RoleOpManager,
	},
	{
		Key:         StageActive,
		Title:       "Active lease",
		Description: "Lease is live and in servicing",
		SLALabel:    "",
	},
	{
		Key:         StageCancelled,
		Title:       "Cancelled",
		Description: "Deal was cancelled",
		SLALabel:    "",
	},
}

// DefaultRequiredDocs is the mandatory client document set collected during
// DOCS_COLLECT when the task carries no explicit required-type list.
var DefaultRequiredDocs = []string{
	DocEmiratesID, DocPassport, DocDrivingLicense,
	DocBankStatement, DocSalaryCertificate,
}

var stageIndex = func() map[string]int {
	m := make(map[string]int, len(Stages))
	for i, s := range Stages {
		m[s.Key] = i
	}
	return m
}()

// Index returns the position of a stage key in the pipeline, or -1 when the
// key is unknown.
func Index(key string) int {
	if i, ok := stageIndex[key]; ok {
		return i
	}
	return -1
}

// ByKey looks up a stage definition.
func ByKey(key string) (Stage, bool) {
	i := Index(key)
	if i < 0 {
		return Stage{}, false
	}
	return Stages[i], true
}

// Next returns the stage that directly follows key in the pipeline.
func Next(key string) (Stage, bool) {
	i := Index(key)
	if i < 0 || i+1 >= len(Stages) {
		return Stage{}, false
	}
	next := Stages[i+1]
	if next.Key == StageCancelled {
		// CANCELLED is never the "next" stage of the normal order.
		return Stage{}, false
	}
	return next, true
}

// GuardFor returns the guard definition with the given key on a stage.
func GuardFor(stage Stage, guardKey string) (Guard, bool) {
	for _, g := range stage.ExitGuards {
		if g.Key == guardKey {
			return g, true
		}
	}
	return Guard{}, false
}

// Task types created by stage entry actions.
const (
	TaskConfirmCar       = "CONFIRM_CAR"
	TaskPrepareQuote     = "PREPARE_QUOTE"
	TaskVerifyVehicle    = "VERIFY_VEHICLE"
	TaskCollectDocs      = "COLLECT_DOCS"
	TaskAECBCheck        = "AECB_CHECK"
	TaskFinCalc          = "FIN_CALC"
	TaskInvestorApproval = "INVESTOR_APPROVAL"
	TaskPrepareContract  = "PREPARE_CONTRACT"
	TaskESignRound       = "ESIGN_ROUND"
	TaskReceiveAdvance   = "RECEIVE_ADVANCE"
	TaskPaySupplier      = "PAY_SUPPLIER"
	TaskArrangeDelivery  = "ARRANGE_DELIVERY"
)

// TaskGuardFallback maps a task type to the guard it completes when the
// task payload carries no explicit guard key.
var TaskGuardFallback = map[string]string{
	TaskConfirmCar:       GuardConfirmCar,
	TaskPrepareQuote:     GuardQuotation,
	TaskVerifyVehicle:    GuardVehicleVerified,
	TaskCollectDocs:      GuardDocsUploaded,
	TaskAECBCheck:        GuardRiskApproved,
	TaskFinCalc:          GuardFinanceApproved,
	TaskInvestorApproval: GuardInvestor,
	TaskPrepareContract:  GuardContractReady,
	TaskESignRound:       GuardAllSigned,
	TaskReceiveAdvance:   GuardAdvanceReceived,
	TaskPaySupplier:      GuardSupplierPaid,
	TaskArrangeDelivery:  GuardDelivered,
}

var guardTaskType = func() map[string]string {
	m := make(map[string]string, len(TaskGuardFallback))
	for taskType, guard := range TaskGuardFallback {
		m[guard] = taskType
	}
	return m
}()

// TaskTypeForGuard returns the task type that fulfills a guard key.
func TaskTypeForGuard(guardKey string) (string, bool) {
	t, ok := guardTaskType[guardKey]
	return t, ok
}

// GuardKeyForTask resolves the guard a task completes: an explicit guard
// key on the task payload wins over the type fallback.
func GuardKeyForTask(taskType string, explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return strings.TrimSpace(explicit)
	}
	return TaskGuardFallback[taskType]
}

// Canonical document types.
const (
	DocEmiratesID          = "emirates_id"
	DocPassport            = "passport"
	DocVisa                = "visa"
	DocDrivingLicense      = "driving_license"
	DocTradeLicense        = "trade_license"
	DocBankStatement       = "bank_statement"
	DocSalaryCertificate   = "salary_certificate"
	DocVehicleRegistration = "vehicle_registration"
	DocTechnicalReport     = "technical_report"
	DocInsurancePolicy     = "insurance_policy"
	DocQuotation           = "quotation"
	DocContract            = "contract"
	DocInvoice             = "invoice"
	DocPaymentReceipt      = "payment_receipt"
	DocDeliveryNote        = "delivery_note"
	DocOther               = "other"
)

// DocumentTypes lists the canonical registry.
var DocumentTypes = []string{
	DocEmiratesID, DocPassport, DocVisa, DocDrivingLicense, DocTradeLicense,
	DocBankStatement, DocSalaryCertificate, DocVehicleRegistration,
	DocTechnicalReport, DocInsurancePolicy, DocQuotation, DocContract,
	DocInvoice, DocPaymentReceipt, DocDeliveryNote, DocOther,
}

var documentTypeSet = func() map[string]bool {
	m := make(map[string]bool, len(DocumentTypes))
	for _, t := range DocumentTypes {
		m[t] = true
	}
	return m
}()

// documentTypeAliases maps common variants onto canonical types.
var documentTypeAliases = map[string]string{
	"eid":                 DocEmiratesID,
	"emirates-id":         DocEmiratesID,
	"national_id":         DocEmiratesID,
	"passport_copy":       DocPassport,
	"residence_visa":      DocVisa,
	"license":             DocDrivingLicense,
	"drivers_license":     DocDrivingLicense,
	"driver_license":      DocDrivingLicense,
	"trade-license":       DocTradeLicense,
	"bank_statements":     DocBankStatement,
	"salary_cert":         DocSalaryCertificate,
	"salary_letter":       DocSalaryCertificate,
	"mulkiya":             DocVehicleRegistration,
	"registration_card":   DocVehicleRegistration,
	"tech_report":         DocTechnicalReport,
	"inspection_report":   DocTechnicalReport,
	"insurance":           DocInsurancePolicy,
	"quote":               DocQuotation,
	"lease_contract":      DocContract,
	"receipt":             DocPaymentReceipt,
	"handover_note":       DocDeliveryNote,
}

// NormalizeDocumentType canonicalizes a document type identifier. Unknown
// identifiers fall back to their trimmed lowercase form.
func NormalizeDocumentType(t string) string {
	key := strings.ToLower(strings.TrimSpace(t))
	key = strings.ReplaceAll(key, " ", "_")
	if canonical, ok := documentTypeAliases[key]; ok {
		return canonical
	}
	return key
}

// KnownDocumentType reports whether the normalized type is in the registry.
func KnownDocumentType(t string) bool {
	return documentTypeSet[NormalizeDocumentType(t)]
}

// Validate checks catalogue consistency. It is run by the server and CLI on
// startup so a broken catalogue fails loudly instead of degrading guards.
func Validate() error {
	if len(Stages) == 0 {
		return fmt.Errorf("catalog has no stages")
	}
	if Stages[0].Key != StageNew {
		return fmt.Errorf("pipeline must start at %s", StageNew)
	}
	if Stages[len(Stages)-1].Key != StageCancelled {
		return fmt.Errorf("pipeline must end with %s", StageCancelled)
	}
	seen := map[string]bool{}
	for _, s := range Stages {
		if s.Key == "" {
			return fmt.Errorf("stage with empty key")
		}
		if seen[s.Key] {
			return fmt.Errorf("duplicate stage key %s", s.Key)
		}
		seen[s.Key] = true
		if !s.Terminal() && s.ExitRole == "" {
			return fmt.Errorf("stage %s missing exit role", s.Key)
		}
		if s.ExitRole != "" && !KnownRole(s.ExitRole) {
			return fmt.Errorf("stage %s has unknown exit role %s", s.Key, s.ExitRole)
		}
		if s.Terminal() && len(s.ExitGuards) > 0 {
			return fmt.Errorf("terminal stage %s cannot declare exit guards", s.Key)
		}
		for _, g := range s.ExitGuards {
			if g.Key == "" {
				return fmt.Errorf("stage %s has guard with empty key", s.Key)
			}
			if g.Label == "" {
				return fmt.Errorf("guard %s missing label", g.Key)
			}
			if g.RequiresDocument && len(g.RequiredTypes) == 0 && !KnownDocumentType(g.Key) && g.Key != GuardDocsUploaded {
				return fmt.Errorf("guard %s requires a document but names no document types", g.Key)
			}
			for _, dt := range g.RequiredTypes {
				if !KnownDocumentType(dt) {
					return fmt.Errorf("guard %s requires unknown document type %s", g.Key, dt)
				}
			}
			if _, ok := guardTaskType[g.Key]; !ok {
				return fmt.Errorf("guard %s has no task type mapping", g.Key)
			}
		}
	}
	return nil
}
