// Package main - domain module registrations.
//
// Blank-import each domain package to trigger its init() function,
// which registers the module with the assessment registry.
//
// To add a new domain, add a blank import here:
//
//	_ "github.com/PiotrMackowski/TenantPosture/internal/module/newdomain"
package main

import (
	// Register all supported assessment domains.
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/appgovernance"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/auditlog"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/collaboration"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/dataprotection"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/defender"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/device"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/exchange"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/identity"
	_ "github.com/PiotrMackowski/TenantPosture/internal/module/privilegedaccess"
)
