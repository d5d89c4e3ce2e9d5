// Package merge implements the Merger/Normalizer (C3): it deep-merges the
// raw documents collected from multiple provisioning sources, in priority
// order, and normalizes the result into a pkg/schema.UnifiedConfig.
//
// The merge and field-extraction rules below are grounded in the
// conversion logic the provisioning plugin used before sysconfig grew a
// typed schema: overlay always wins, objects merge key-by-key, everything
// else (arrays, scalars) is replaced wholesale.
package merge

import (
	"strings"

	"github.com/toasterson/sysconfig/pkg/schema"
)

// JSON deep-merges overlay onto base and returns the result. Both
// arguments are left untouched; a fresh value tree is returned. Object
// values are merged key-by-key (recursively); any other JSON kind
// (arrays, strings, numbers, booleans, null) is replaced entirely by
// overlay's value when present.
func JSON(base, overlay interface{}) interface{} {
	if overlay == nil {
		return base
	}
	baseMap, baseIsMap := base.(map[string]interface{})
	overlayMap, overlayIsMap := overlay.(map[string]interface{})
	if !baseIsMap || !overlayIsMap {
		return overlay
	}

	merged := make(map[string]interface{}, len(baseMap)+len(overlayMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for k, ov := range overlayMap {
		if bv, ok := merged[k]; ok {
			merged[k] = JSON(bv, ov)
		} else {
			merged[k] = ov
		}
	}
	return merged
}

// Documents folds a priority-ordered list of raw documents into one,
// lowest priority first. Each later document overlays the accumulated
// result, so the highest-priority document (last in docs) wins any
// conflict. A nil entry is skipped.
func Documents(docs ...map[string]interface{}) map[string]interface{} {
	var acc interface{} = map[string]interface{}{}
	for _, d := range docs {
		if d == nil {
			continue
		}
		acc = JSON(acc, map[string]interface{}(d))
	}
	merged, _ := acc.(map[string]interface{})
	if merged == nil {
		merged = map[string]interface{}{}
	}
	return merged
}

// extractStringField returns the first non-empty string found at any of
// paths (dotted, object traversal only) within doc.
func extractStringField(doc map[string]interface{}, paths ...string) (string, bool) {
	for _, path := range paths {
		v, ok := lookup(doc, path)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func extractStringArray(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Normalize converts a merged raw document into a pkg/schema.UnifiedConfig.
// It is tolerant of missing sections: a document with none of the
// recognized keys normalizes to an empty, valid configuration.
func Normalize(doc map[string]interface{}) (*schema.UnifiedConfig, error) {
	cfg := schema.New()

	sys := convertSystem(doc)
	if sys != nil {
		cfg.System = sys
	}

	users := convertUsers(doc)
	if users != nil {
		cfg.Users = users
	}

	net := convertNetworking(doc)
	if net != nil {
		cfg.Networking = net
	}

	sw := convertSoftware(doc)
	if sw != nil {
		cfg.Software = sw
	}

	scripts := convertScripts(doc)
	if scripts != nil {
		cfg.Scripts = scripts
	}

	power := convertPowerState(doc)
	if power != nil {
		cfg.PowerState = power
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func convertSystem(doc map[string]interface{}) *schema.SystemConfig {
	// Precedence order is spec.md §4.3 verbatim: hostname may appear
	// under any of these keys depending on which source produced it;
	// the first non-empty one wins.
	hostname, hasHostname := extractStringField(doc,
		"hostname", "meta_data.local-hostname", "gcp.hostname", "user_data.hostname", "ec2.local_hostname")
	fqdn, hasFQDN := extractStringField(doc, "fqdn", "system.fqdn", "meta_data.local-hostname")
	timezone, hasTZ := extractStringField(doc, "timezone", "system.timezone")
	locale, hasLocale := extractStringField(doc, "locale", "system.locale")

	if !hasHostname && !hasFQDN && !hasTZ && !hasLocale {
		return nil
	}

	sys := &schema.SystemConfig{Environment: map[string]string{}}
	if hasHostname {
		sys.Hostname = &hostname
	}
	if hasFQDN {
		sys.FQDN = &fqdn
	}
	if hasTZ {
		sys.Timezone = &timezone
	}
	if hasLocale {
		sys.Locale = &locale
	}
	return sys
}

// sudoMode mirrors the original sudo-declaration mapping: a bool selects
// deny/unrestricted outright; the literal cloud-init "ALL=(ALL)
// NOPASSWD:ALL" string also means unrestricted; "false"/"deny" mean deny;
// any other single string or array of strings is a custom rule set.
func sudoMode(v interface{}) *schema.SudoConfig {
	switch t := v.(type) {
	case bool:
		if t {
			cfg := schema.SudoUnrestricted
			return &cfg
		}
		cfg := schema.SudoDeny
		return &cfg
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "all=(all) nopasswd:all":
			cfg := schema.SudoUnrestricted
			return &cfg
		case "false", "deny":
			cfg := schema.SudoDeny
			return &cfg
		default:
			cfg := schema.SudoCustom([]string{t})
			return &cfg
		}
	case []interface{}:
		rules := extractStringArray(t)
		if len(rules) == 0 {
			return nil
		}
		cfg := schema.SudoCustom(rules)
		return &cfg
	default:
		return nil
	}
}

// userPassword extracts a plaintext password hash out of the two fields
// cloud-init uses, preferring an already-hashed value over a plaintext
// one; "*" and "" mean "no password set" and are skipped, matching
// cloud-init's own convention for a locked account.
func userPassword(u map[string]interface{}) *schema.PasswordConfig {
	for _, key := range []string{"hashed_passwd", "passwd"} {
		v, ok := u[key]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" || s == "*" {
			continue
		}
		return &schema.PasswordConfig{Hash: s}
	}
	return nil
}

func convertUsers(doc map[string]interface{}) []schema.UserConfig {
	raw, ok := doc["users"]
	if !ok {
		return nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	out := make([]schema.UserConfig, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, schema.UserConfig{Name: s, Authentication: schema.AuthenticationConfig{}})
			continue
		}
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := extractStringField(m, "name")
		if name == "" {
			continue
		}

		u := schema.UserConfig{Name: name, Authentication: schema.AuthenticationConfig{}}
		if desc, ok := extractStringField(m, "gecos", "description"); ok {
			u.Description = &desc
		}
		if shell, ok := extractStringField(m, "shell"); ok {
			u.Shell = &shell
		}
		if groups, ok := m["groups"]; ok {
			u.Groups = extractStringArray(groups)
		}
		if pg, ok := extractStringField(m, "primary_group"); ok {
			u.PrimaryGroup = &pg
		}
		if home, ok := extractStringField(m, "homedir", "home"); ok {
			u.HomeDirectory = &home
		}
		if sys, ok := m["system"].(bool); ok {
			u.SystemUser = sys
		}

		u.Sudo = sudoMode(m["sudo"])
		u.Authentication.Password = userPassword(m)
		if keys, ok := m["ssh_authorized_keys"]; ok {
			u.Authentication.SSHKeys = extractStringArray(keys)
		} else if keys, ok := m["ssh-authorized-keys"]; ok {
			u.Authentication.SSHKeys = extractStringArray(keys)
		}
		if ids, ok := m["ssh_import_id"]; ok {
			u.Authentication.SSHImportIDs = extractStringArray(ids)
		}

		out = append(out, u)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func convertNetworking(doc map[string]interface{}) *schema.NetworkingConfig {
	raw, ok := doc["networking"]
	if !ok {
		raw, ok = doc["network"]
	}
	if !ok {
		return nil
	}
	netDoc, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}

	version := 1.0
	if v, ok := netDoc["version"].(float64); ok {
		version = v
	}

	var ifaces []schema.NetworkInterfaceConfig
	switch version {
	case 2:
		ifaces = convertNetworkV2(netDoc)
	default:
		ifaces = convertNetworkV1(netDoc)
	}
	if len(ifaces) == 0 {
		return nil
	}

	net := &schema.NetworkingConfig{Interfaces: ifaces}
	if ns, ok := netDoc["nameservers"]; ok {
		if m, ok := ns.(map[string]interface{}); ok {
			net.Nameservers = extractStringArray(m["addresses"])
			net.SearchDomains = extractStringArray(m["search"])
		} else {
			net.Nameservers = extractStringArray(ns)
		}
	}
	return net
}

func convertNetworkV1(netDoc map[string]interface{}) []schema.NetworkInterfaceConfig {
	items, ok := netDoc["config"].([]interface{})
	if !ok {
		return nil
	}
	var out []schema.NetworkInterfaceConfig
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		itemType, _ := extractStringField(item, "type")
		if itemType != "physical" && itemType != "vlan" {
			continue
		}
		name, _ := extractStringField(item, "name")
		if name == "" {
			continue
		}
		iface := schema.NetworkInterfaceConfig{Name: name}
		if mac, ok := extractStringField(item, "mac_address"); ok {
			iface.MACAddress = &mac
		}

		subnets, _ := item["subnets"].([]interface{})
		for _, rs := range subnets {
			subnet, ok := rs.(map[string]interface{})
			if !ok {
				continue
			}
			subnetType, _ := extractStringField(subnet, "type")
			switch subnetType {
			case "static", "static6":
				addr, _ := extractStringField(subnet, "address")
				iface.Addresses = append(iface.Addresses, schema.AddressConfig{
					Name: "addr0", Kind: schema.StaticAddress(addr),
				})
				if gw, ok := extractStringField(subnet, "gateway"); ok && iface.Gateway == nil {
					iface.Gateway = &gw
				}
			case "dhcp", "dhcp4":
				iface.Addresses = append(iface.Addresses, schema.AddressConfig{Name: "addr0", Kind: schema.Dhcp4})
			case "dhcp6":
				iface.Addresses = append(iface.Addresses, schema.AddressConfig{Name: "addr0", Kind: schema.Dhcp6})
			}
		}
		out = append(out, iface)
	}
	return out
}

func convertNetworkV2(netDoc map[string]interface{}) []schema.NetworkInterfaceConfig {
	eth, ok := netDoc["ethernets"].(map[string]interface{})
	if !ok {
		return nil
	}
	var out []schema.NetworkInterfaceConfig
	for name, raw := range eth {
		cfg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		iface := schema.NetworkInterfaceConfig{Name: name}

		if addrs, ok := cfg["addresses"].([]interface{}); ok {
			for _, a := range addrs {
				if s, ok := a.(string); ok {
					iface.Addresses = append(iface.Addresses, schema.AddressConfig{
						Name: "addr" + fmtIdx(len(iface.Addresses)), Kind: schema.StaticAddress(s),
					})
				}
			}
		}
		if dhcp4, ok := cfg["dhcp4"].(bool); ok && dhcp4 {
			iface.Addresses = append(iface.Addresses, schema.AddressConfig{Name: "addr" + fmtIdx(len(iface.Addresses)), Kind: schema.Dhcp4})
		}
		if dhcp6, ok := cfg["dhcp6"].(bool); ok && dhcp6 {
			iface.Addresses = append(iface.Addresses, schema.AddressConfig{Name: "addr" + fmtIdx(len(iface.Addresses)), Kind: schema.Dhcp6})
		}
		if gw, ok := extractStringField(cfg, "gateway4"); ok {
			iface.Gateway = &gw
		} else if gw, ok := extractStringField(cfg, "gateway6"); ok {
			iface.Gateway = &gw
		}
		out = append(out, iface)
	}
	return out
}

func fmtIdx(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return "n"
}

func convertSoftware(doc map[string]interface{}) *schema.SoftwareConfig {
	pkgs, hasPkgs := doc["packages"]
	update, _ := doc["package_update"].(bool)
	upgrade, _ := doc["package_upgrade"].(bool)
	sources, hasSources := doc["apt"]

	if !hasPkgs && !update && !upgrade && !hasSources {
		return nil
	}

	sw := &schema.SoftwareConfig{UpdateOnBoot: update, UpgradeOnBoot: upgrade}
	if hasPkgs {
		sw.PackagesToInstall = extractStringArray(pkgs)
	}
	if hasSources {
		if aptDoc, ok := sources.(map[string]interface{}); ok {
			sw.Repositories = &schema.RepositoryConfig{Apt: convertAptSources(aptDoc)}
		}
	}
	return sw
}

// convertAptSources parses the whitespace-separated "deb URI SUITE
// COMPONENTS..." source-line format cloud-init's apt module uses.
func convertAptSources(aptDoc map[string]interface{}) *schema.AptRepositoryConfig {
	sourcesRaw, ok := aptDoc["sources"].(map[string]interface{})
	if !ok {
		return nil
	}
	apt := &schema.AptRepositoryConfig{}
	for name, raw := range sourcesRaw {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		line, _ := extractStringField(entry, "source")
		fields := strings.Fields(line)
		src := schema.AptSource{Name: name}
		// fields[0] is the "deb"/"deb-src" token, fields[1] the URI,
		// fields[2] the suite, the rest are components.
		if len(fields) >= 2 {
			src.URI = fields[1]
		}
		if len(fields) >= 3 {
			src.Suites = []string{fields[2]}
		}
		if len(fields) >= 4 {
			src.Components = fields[3:]
		}
		if keyID, ok := extractStringField(entry, "keyid"); ok {
			src.KeyID = &keyID
		}
		apt.Sources = append(apt.Sources, src)
	}
	if len(apt.Sources) == 0 {
		return nil
	}
	return apt
}

// convertScripts maps cloud-init's bootcmd/runcmd lists and a raw
// user-data payload that turns out to be a bare shebang script into the
// early/main script stages.
// rawScriptTimeoutSeconds is the default timeout applied to a script
// recovered from a raw user-data/startup-script/custom-data blob, since
// that source gives no indication of how long it may legitimately run.
const rawScriptTimeoutSeconds = uint64(600)

func convertScripts(doc map[string]interface{}) *schema.ScriptConfig {
	boot := extractScriptList(doc["bootcmd"], "bootcmd")
	run := extractScriptList(doc["runcmd"], "runcmd")

	var raw, rawKey string
	for _, key := range []string{"user_data_raw", "startup_script", "custom_data"} {
		if s, ok := extractStringField(doc, key); ok {
			raw, rawKey = s, key
			break
		}
	}
	var rawScripts []schema.Script
	if strings.HasPrefix(strings.TrimSpace(raw), "#!") {
		timeout := rawScriptTimeoutSeconds
		outputFile := "/var/log/sysconfig/" + rawKey + ".log"
		rawScripts = []schema.Script{{
			ID:         "user-data",
			Content:    raw,
			Timeout:    &timeout,
			OutputFile: &outputFile,
		}}
	}

	if len(boot) == 0 && len(run) == 0 && len(rawScripts) == 0 {
		return nil
	}
	return &schema.ScriptConfig{Early: boot, Main: append(run, rawScripts...)}
}

func extractScriptList(v interface{}, prefix string) []schema.Script {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]schema.Script, 0, len(arr))
	for i, e := range arr {
		switch t := e.(type) {
		case string:
			out = append(out, schema.Script{ID: prefix + "-" + fmtIdx(i), Content: t})
		case []interface{}:
			// A command given as an argv list; its arguments are joined
			// with single spaces, without shell quoting.
			parts := extractStringArray(t)
			out = append(out, schema.Script{ID: prefix + "-" + fmtIdx(i), Content: strings.Join(parts, " ")})
		}
	}
	return out
}

// convertPowerState maps cloud-init's power_state module declaration;
// any mode other than halt/poweroff/reboot normalizes to a no-op so an
// unrecognized value never accidentally shuts the machine down.
func convertPowerState(doc map[string]interface{}) *schema.PowerStateConfig {
	raw, ok := doc["power_state"].(map[string]interface{})
	if !ok {
		return nil
	}
	mode, _ := extractStringField(raw, "mode")
	cfg := &schema.PowerStateConfig{Mode: schema.PowerNoop}
	switch strings.ToLower(mode) {
	case "halt":
		cfg.Mode = schema.PowerHalt
	case "poweroff":
		cfg.Mode = schema.PowerPoweroff
	case "reboot":
		cfg.Mode = schema.PowerReboot
	}
	if msg, ok := extractStringField(raw, "message"); ok {
		cfg.Message = &msg
	}
	if d, ok := raw["delay"].(float64); ok {
		delay := uint64(d)
		cfg.Delay = &delay
	}
	return cfg
}
