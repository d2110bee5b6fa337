package catalog_test

import (
	"testing"

	"leaseline/internal/catalog"
)

func TestCatalogIsValid(t *testing.T) {
	if err := catalog.Validate(); err != nil {
		t.Fatalf("catalogue invalid: %v", err)
	}
}

func TestPipelineOrder(t *testing.T) {
	next, ok := catalog.Next(catalog.StageNew)
	if !ok || next.Key != catalog.StageOfferPrep {
		t.Fatalf("NEW should advance to OFFER_PREP, got %q ok=%v", next.Key, ok)
	}
	next, ok = catalog.Next(catalog.StageSigningFunding)
	if !ok || next.Key != catalog.StageVehicleDelivery {
		t.Fatalf("SIGNING_FUNDING should advance to VEHICLE_DELIVERY, got %q ok=%v", next.Key, ok)
	}
	if _, ok := catalog.Next(catalog.StageActive); ok {
		t.Fatal("ACTIVE must have no next stage")
	}
	if _, ok := catalog.Next(catalog.StageCancelled); ok {
		t.Fatal("CANCELLED must have no next stage")
	}
	// CANCELLED is never the "next" of the last working stage.
	if next, ok := catalog.Next(catalog.StageVehicleDelivery); !ok || next.Key != catalog.StageActive {
		t.Fatalf("VEHICLE_DELIVERY should advance to ACTIVE, got %q", next.Key)
	}
}

func TestIndexUnknownStage(t *testing.T) {
	if got := catalog.Index("NOT_A_STAGE"); got != -1 {
		t.Fatalf("unknown stage index = %d, want -1", got)
	}
}

func TestGuardTaskMappingRoundTrip(t *testing.T) {
	for taskType, guardKey := range catalog.TaskGuardFallback {
		back, ok := catalog.TaskTypeForGuard(guardKey)
		if !ok {
			t.Fatalf("guard %s has no task type", guardKey)
		}
		if back != taskType {
			// Multiple task types may share a guard only if the reverse map
			// picks a deterministic one; the current catalogue is 1:1.
			t.Fatalf("guard %s maps back to %s, want %s", guardKey, back, taskType)
		}
	}
}

func TestGuardKeyForTaskPrecedence(t *testing.T) {
	if got := catalog.GuardKeyForTask(catalog.TaskConfirmCar, ""); got != catalog.GuardConfirmCar {
		t.Fatalf("fallback guard = %q", got)
	}
	if got := catalog.GuardKeyForTask(catalog.TaskConfirmCar, "custom.guard"); got != "custom.guard" {
		t.Fatalf("explicit guard should win, got %q", got)
	}
}

func TestNormalizeDocumentType(t *testing.T) {
	cases := map[string]string{
		"eid":            catalog.DocEmiratesID,
		"EID":            catalog.DocEmiratesID,
		"tech_report":    catalog.DocTechnicalReport,
		"mulkiya":        catalog.DocVehicleRegistration,
		" Passport ":     catalog.DocPassport,
		"Salary Letter ": catalog.DocSalaryCertificate,
		"house contract": "house_contract",
	}
	for in, want := range cases {
		if got := catalog.NormalizeDocumentType(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSupervisors(t *testing.T) {
	if !catalog.IsSupervisor(catalog.RoleAdmin) || !catalog.IsSupervisor(catalog.RoleOpManager) {
		t.Fatal("ADMIN and OP_MANAGER are supervisors")
	}
	if catalog.IsSupervisor(catalog.RoleFinance) {
		t.Fatal("FINANCE is not a supervisor")
	}
}

func TestExitRolesPerStage(t *testing.T) {
	want := map[string]catalog.Role{
		catalog.StageNew:             catalog.RoleOpManager,
		catalog.StageRiskReview:      catalog.RoleRiskManager,
		catalog.StageFinanceReview:   catalog.RoleFinance,
		catalog.StageInvestorPending: catalog.RoleInvestor,
		catalog.StageContractPrep:    catalog.RoleLegal,
		catalog.StageSigningFunding:  catalog.RoleFinance,
	}
	for key, role := range want {
		s, ok := catalog.ByKey(key)
		if !ok {
			t.Fatalf("stage %s missing", key)
		}
		if s.ExitRole != role {
			t.Errorf("stage %s exit role = %s, want %s", key, s.ExitRole, role)
		}
	}
}
