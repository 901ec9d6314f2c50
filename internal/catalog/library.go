package catalog

import "fmt"

// Catalog names as they appear in logs and audit records.
const (
	NameDangerousCommands = "dangerous_commands"
	NameCommandTools      = "command_tools"
	NameSensitiveData     = "sensitive_data"
	NameInjection         = "injection"
	NameSuspiciousURLs    = "suspicious_urls"
	NameExfilQuery        = "exfil_query"
	NameComplianceLeak    = "compliance_leak"
)

// Library bundles the compiled built-in catalogs.
type Library struct {
	DangerousCommands *Catalog
	CommandTools      *Catalog
	SensitiveData     *Catalog
	Injection         *Catalog
	SuspiciousURLs    *Catalog
	ExfilQuery        *Catalog
	ComplianceLeak    *Catalog
}

// NewLibrary compiles every built-in table with the given options.
func NewLibrary(opts ...Option) (*Library, error) {
	lib := &Library{}
	tables := []struct {
		name  string
		specs []RuleSpec
		dst   **Catalog
	}{
		{NameDangerousCommands, DangerousCommandRules, &lib.DangerousCommands},
		{NameCommandTools, CommandToolRules, &lib.CommandTools},
		{NameSensitiveData, SensitiveDataRules, &lib.SensitiveData},
		{NameInjection, InjectionRules, &lib.Injection},
		{NameSuspiciousURLs, SuspiciousURLRules, &lib.SuspiciousURLs},
		{NameExfilQuery, ExfilQueryRules, &lib.ExfilQuery},
		{NameComplianceLeak, ComplianceLeakRules, &lib.ComplianceLeak},
	}

	for _, t := range tables {
		c, err := New(t.name, t.specs, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to compile built-in catalogs: %w", err)
		}
		*t.dst = c
	}
	return lib, nil
}

// ByName returns the catalog with the given name, or nil.
func (l *Library) ByName(name string) *Catalog {
	switch name {
	case NameDangerousCommands:
		return l.DangerousCommands
	case NameCommandTools:
		return l.CommandTools
	case NameSensitiveData:
		return l.SensitiveData
	case NameInjection:
		return l.Injection
	case NameSuspiciousURLs:
		return l.SuspiciousURLs
	case NameExfilQuery:
		return l.ExfilQuery
	case NameComplianceLeak:
		return l.ComplianceLeak
	default:
		return nil
	}
}
