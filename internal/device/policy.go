// SPDX-License-Identifier: MIT

package device

// Restrictions is the set of DPC-enforced device restrictions.
type Restrictions struct {
	NoUSB         bool `json:"no_usb"`
	NoCamera      bool `json:"no_camera"`
	NoInstallApps bool `json:"no_install_apps"`
}

// PolicyTemplate is the static policy payload a device state implies.
type PolicyTemplate struct {
	Restrictions      Restrictions `json:"restrictions"`
	LockScreenMessage string       `json:"lock_screen_message"`
	ProtectedPackages []string     `json:"protected_packages"`
}

const financeAppPackage = "com.example.fintechapp"

// policyTemplates is the authoritative state -> policy table the DPC
// enforces. Keep lock_screen_message user-facing; it is rendered verbatim.
var policyTemplates = map[State]PolicyTemplate{
	StateProvisioning: {
		Restrictions:      Restrictions{NoUSB: true, NoInstallApps: true},
		LockScreenMessage: "Setup in progress.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StateActive: {
		ProtectedPackages: []string{financeAppPackage},
	},
	StateGracePeriod: {
		LockScreenMessage: "Payment overdue. Please pay to avoid restrictions.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StateSoftLocked: {
		Restrictions:      Restrictions{NoUSB: true, NoCamera: true, NoInstallApps: true},
		LockScreenMessage: "Device restricted due to missed payment. Pay now to restore access.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StateHardLocked: {
		Restrictions:      Restrictions{NoUSB: true, NoCamera: true, NoInstallApps: true},
		LockScreenMessage: "Device locked. Contact support or make payment to unlock.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StateSuspended: {
		Restrictions:      Restrictions{NoUSB: true, NoCamera: true, NoInstallApps: true},
		LockScreenMessage: "Device suspended. Contact support.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StateStolenLocked: {
		Restrictions:      Restrictions{NoUSB: true, NoCamera: true, NoInstallApps: true},
		LockScreenMessage: "This device has been reported. Contact authorities.",
		ProtectedPackages: []string{financeAppPackage},
	},
	StatePaidOff: {
		ProtectedPackages: []string{},
	},
	StateDecommissioned: {
		LockScreenMessage: "Device decommissioned.",
		ProtectedPackages: []string{},
	},
}

// TemplateFor returns the policy template for state. Every valid state has
// a template; the fallback keeps an out-of-range value harmless.
func TemplateFor(state State) PolicyTemplate {
	if t, ok := policyTemplates[state]; ok {
		return t
	}
	return policyTemplates[StateActive]
}
