// Package schema implements the Unified Configuration Schema (C1): a
// strongly-typed, serializable description of desired machine state.
//
// This is the typed view used at the edges of the system — orchestrator
// input and on-demand validation (spec.md design note "Dynamic JSON as the
// pivot"). The state store itself (pkg/state) holds untyped JSON; it
// imports this package only for CanonicalizeJSON, to hash revisions.
package schema

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/toasterson/sysconfig/internal/sysconfigerr"
)

// UnifiedConfig is the root configuration for a managed instance.
type UnifiedConfig struct {
	System       *SystemConfig       `json:"system,omitempty"`
	Storage      *StorageConfig      `json:"storage,omitempty"`
	Networking   *NetworkingConfig   `json:"networking,omitempty"`
	Software     *SoftwareConfig     `json:"software,omitempty"`
	Users        []UserConfig        `json:"users"`
	Scripts      *ScriptConfig       `json:"scripts,omitempty"`
	Integrations *IntegrationConfig  `json:"integrations,omitempty"`
	Containers   *ContainerConfig    `json:"containers,omitempty"`
	PowerState   *PowerStateConfig   `json:"power_state,omitempty"`
}

// New returns an empty, valid configuration.
func New() *UnifiedConfig {
	return &UnifiedConfig{Users: []UserConfig{}}
}

// SystemConfig describes the system's identity and environment.
type SystemConfig struct {
	Hostname    *string           `json:"hostname,omitempty"`
	FQDN        *string           `json:"fqdn,omitempty"`
	Timezone    *string           `json:"timezone,omitempty"`
	Locale      *string           `json:"locale,omitempty"`
	Environment map[string]string `json:"environment"`
}

// StorageConfig describes storage devices, pools, datasets and mounts.
type StorageConfig struct {
	Filesystems    []FilesystemConfig     `json:"filesystems"`
	Pools          []StoragePoolConfig    `json:"pools"`
	Mounts         []MountConfig          `json:"mounts"`
	ZfsDatasets    []ZfsDatasetConfig     `json:"zfs_datasets"`
	ZfsSnapshots   []ZfsSnapshotConfig    `json:"zfs_snapshots"`
	ZfsReplication []ZfsReplicationConfig `json:"zfs_replication"`
}

type FilesystemType string

const (
	FilesystemZFS   FilesystemType = "zfs"
	FilesystemUFS   FilesystemType = "ufs"
	FilesystemExt4  FilesystemType = "ext4"
	FilesystemXFS   FilesystemType = "xfs"
	FilesystemBtrfs FilesystemType = "btrfs"
	FilesystemNTFS  FilesystemType = "ntfs"
	FilesystemFAT32 FilesystemType = "fat32"
)

type FilesystemConfig struct {
	Device  string            `json:"device"`
	FSType  FilesystemType    `json:"fstype"`
	Options map[string]string `json:"options"`
	Format  bool              `json:"format"`
}

type StoragePoolType string

const (
	StoragePoolZFS StoragePoolType = "zpool"
	StoragePoolLVM StoragePoolType = "lvm"
)

type StoragePoolConfig struct {
	Name       string            `json:"name"`
	PoolType   StoragePoolType   `json:"pool_type"`
	Devices    []string          `json:"devices"`
	Properties map[string]string `json:"properties"`
	Topology   *ZfsPoolTopology  `json:"topology,omitempty"`
}

type MountConfig struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	FSType     *string  `json:"fstype,omitempty"`
	Options    []string `json:"options"`
	Persistent bool     `json:"persistent"`
}

// ZfsDatasetType is a discriminated union: Type is "filesystem" or
// "volume"; Size is only present for "volume".
type ZfsDatasetType struct {
	Type string `json:"type"`
	Size string `json:"size,omitempty"`
}

func FilesystemDataset() ZfsDatasetType     { return ZfsDatasetType{Type: "filesystem"} }
func VolumeDataset(size string) ZfsDatasetType { return ZfsDatasetType{Type: "volume", Size: size} }

type ZfsDatasetConfig struct {
	Name        string             `json:"name"`
	DatasetType ZfsDatasetType     `json:"dataset_type"`
	Properties  map[string]string  `json:"properties"`
	Quota       *string            `json:"quota,omitempty"`
	Reservation *string            `json:"reservation,omitempty"`
	Children    []ZfsDatasetConfig `json:"children"`
}

type ZfsPoolTopology struct {
	Data  []ZfsVdevConfig `json:"data"`
	Log   []ZfsVdevConfig `json:"log"`
	Cache []ZfsVdevConfig `json:"cache"`
	Spare []string        `json:"spare"`
}

type ZfsVdevType string

const (
	VdevStripe ZfsVdevType = "stripe"
	VdevMirror ZfsVdevType = "mirror"
	VdevRaidz  ZfsVdevType = "raidz"
	VdevRaidz2 ZfsVdevType = "raidz2"
	VdevRaidz3 ZfsVdevType = "raidz3"
)

type ZfsVdevConfig struct {
	VdevType ZfsVdevType `json:"vdev_type"`
	Devices  []string    `json:"devices"`
}

type ZfsSnapshotConfig struct {
	Dataset    string            `json:"dataset"`
	Name       string            `json:"name"`
	Recursive  bool              `json:"recursive"`
	Properties map[string]string `json:"properties"`
}

type ZfsReplicationType string

const (
	ReplicationSend        ZfsReplicationType = "send"
	ReplicationIncremental ZfsReplicationType = "incremental"
	ReplicationFull        ZfsReplicationType = "full"
)

type ZfsReplicationConfig struct {
	SourceDataset     string             `json:"source_dataset"`
	Target            string             `json:"target"`
	ReplicationType   ZfsReplicationType `json:"replication_type"`
	SSHConfig         *SSHConfig         `json:"ssh_config,omitempty"`
	ExcludeProperties []string           `json:"exclude_properties"`
}

type SSHConfig struct {
	User    string  `json:"user"`
	Host    string  `json:"host"`
	Port    *uint16 `json:"port,omitempty"`
	KeyPath *string `json:"key_path,omitempty"`
}

// NetworkingConfig describes interfaces, DNS, routes and NTP servers.
type NetworkingConfig struct {
	Interfaces    []NetworkInterfaceConfig `json:"interfaces"`
	Nameservers   []string                 `json:"nameservers"`
	SearchDomains []string                 `json:"search_domains"`
	Routes        []RouteConfig            `json:"routes"`
	NTPServers    []string                 `json:"ntp_servers"`
}

type NetworkInterfaceConfig struct {
	Name        string          `json:"name"`
	MACAddress  *string         `json:"mac_address,omitempty"`
	Addresses   []AddressConfig `json:"addresses"`
	Gateway     *string         `json:"gateway,omitempty"`
	MTU         *uint16         `json:"mtu,omitempty"`
	Description *string         `json:"description,omitempty"`
	VLAN        *VlanConfig     `json:"vlan,omitempty"`
}

type AddressConfig struct {
	Name string      `json:"name"`
	Kind AddressKind `json:"kind"`
}

// AddressKind is a discriminated union over static/dhcp4/dhcp6/addrconf.
// Value only carries data for "static" (a CIDR string).
type AddressKind struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

func StaticAddress(cidr string) AddressKind { return AddressKind{Type: "static", Value: cidr} }

var (
	Dhcp4    = AddressKind{Type: "dhcp4"}
	Dhcp6    = AddressKind{Type: "dhcp6"}
	Addrconf = AddressKind{Type: "addrconf"}
)

type VlanConfig struct {
	ID     uint16 `json:"id"`
	Parent string `json:"parent"`
}

type RouteConfig struct {
	Destination string  `json:"destination"`
	Gateway     string  `json:"gateway"`
	Interface   *string `json:"interface,omitempty"`
	Metric      *uint32 `json:"metric,omitempty"`
}

// SoftwareConfig describes package management intent.
type SoftwareConfig struct {
	UpdateOnBoot      bool              `json:"update_on_boot"`
	UpgradeOnBoot     bool              `json:"upgrade_on_boot"`
	PackagesToInstall []string          `json:"packages_to_install"`
	PackagesToRemove  []string          `json:"packages_to_remove"`
	Repositories      *RepositoryConfig `json:"repositories,omitempty"`
}

type RepositoryConfig struct {
	Apt *AptRepositoryConfig `json:"apt,omitempty"`
	Yum *YumRepositoryConfig `json:"yum,omitempty"`
	Apk *ApkRepositoryConfig `json:"apk,omitempty"`
	Ips *IpsRepositoryConfig `json:"ips,omitempty"`
	Pkg *PkgRepositoryConfig `json:"pkg,omitempty"`
}

type AptRepositoryConfig struct {
	Proxy       *string        `json:"proxy,omitempty"`
	PPAs        []string       `json:"ppas"`
	Sources     []AptSource    `json:"sources"`
	Preferences map[string]int `json:"preferences"`
}

type AptSource struct {
	Name       string  `json:"name"`
	URI        string  `json:"uri"`
	Suites     []string `json:"suites"`
	Components []string `json:"components"`
	KeyID      *string `json:"key_id,omitempty"`
	KeyServer  *string `json:"key_server,omitempty"`
	KeyContent *string `json:"key_content,omitempty"`
}

type YumRepositoryConfig struct {
	Proxy        *string         `json:"proxy,omitempty"`
	Repositories []YumRepository `json:"repositories"`
	GPGCheck     bool            `json:"gpgcheck"`
}

type YumRepository struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	BaseURL string  `json:"baseurl"`
	Enabled bool    `json:"enabled"`
	GPGKey  *string `json:"gpgkey,omitempty"`
}

type ApkRepositoryConfig struct {
	Proxy        *string  `json:"proxy,omitempty"`
	Repositories []string `json:"repositories"`
	CacheDir     *string  `json:"cache_dir,omitempty"`
}

type IpsRepositoryConfig struct {
	Proxy                 *string        `json:"proxy,omitempty"`
	Publishers            []IpsPublisher `json:"publishers"`
	SignatureVerification bool           `json:"signature_verification"`
}

type IpsPublisher struct {
	Name      string  `json:"name"`
	Origin    string  `json:"origin"`
	Enabled   bool    `json:"enabled"`
	Preferred bool    `json:"preferred"`
	SSLCert   *string `json:"ssl_cert,omitempty"`
	SSLKey    *string `json:"ssl_key,omitempty"`
}

type PkgSignatureType string

const (
	PkgSignatureNone         PkgSignatureType = "none"
	PkgSignatureFingerprints PkgSignatureType = "fingerprints"
	PkgSignaturePubkey       PkgSignatureType = "pubkey"
)

type PkgRepositoryConfig struct {
	Proxy         *string          `json:"proxy,omitempty"`
	Repositories  []PkgRepository  `json:"repositories"`
	SignatureType PkgSignatureType `json:"signature_type"`
}

type PkgRepository struct {
	Name          string            `json:"name"`
	URL           string            `json:"url"`
	Enabled       bool              `json:"enabled"`
	Priority      *int              `json:"priority,omitempty"`
	SignatureType *PkgSignatureType `json:"signature_type,omitempty"`
}

// UserConfig defines a single user account and its properties.
type UserConfig struct {
	Name           string                `json:"name"`
	Description    *string               `json:"description,omitempty"`
	Shell          *string               `json:"shell,omitempty"`
	Groups         []string              `json:"groups"`
	PrimaryGroup   *string               `json:"primary_group,omitempty"`
	SystemUser     bool                  `json:"system_user"`
	HomeDirectory  *string               `json:"home_directory,omitempty"`
	UID            *uint32               `json:"uid,omitempty"`
	CreateHome     bool                  `json:"create_home"`
	Sudo           *SudoConfig           `json:"sudo,omitempty"`
	Authentication AuthenticationConfig  `json:"authentication"`
}

// SudoConfig is a discriminated union: Mode is deny/unrestricted/custom;
// Rules only carries data for "custom".
type SudoConfig struct {
	Mode  string   `json:"mode"`
	Rules []string `json:"rules,omitempty"`
}

var (
	SudoDeny         = SudoConfig{Mode: "deny"}
	SudoUnrestricted = SudoConfig{Mode: "unrestricted"}
)

func SudoCustom(rules []string) SudoConfig {
	return SudoConfig{Mode: "custom", Rules: rules}
}

type AuthenticationConfig struct {
	Password      *PasswordConfig `json:"password,omitempty"`
	SSHKeys       []string        `json:"ssh_keys"`
	SSHImportIDs  []string        `json:"ssh_import_ids"`
}

type PasswordConfig struct {
	Hash               string `json:"hash"`
	ExpireOnFirstLogin bool   `json:"expire_on_first_login"`
}

// ScriptConfig groups scripts by boot stage.
type ScriptConfig struct {
	Early  []Script `json:"early"`
	Main   []Script `json:"main"`
	Late   []Script `json:"late"`
	Always []Script `json:"always"`
}

type Script struct {
	ID               string            `json:"id"`
	Content          string            `json:"content"`
	Interpreter      *string           `json:"interpreter,omitempty"`
	WorkingDirectory *string           `json:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment"`
	RunOnce          bool              `json:"run_once"`
	OutputFile       *string           `json:"output_file,omitempty"`
	Timeout          *uint64           `json:"timeout,omitempty"`
}

// IntegrationConfig bootstraps third-party config management tools.
type IntegrationConfig struct {
	Ansible *AnsibleConfig `json:"ansible,omitempty"`
	Puppet  *PuppetConfig  `json:"puppet,omitempty"`
	Chef    *ChefConfig    `json:"chef,omitempty"`
}

type AnsibleConfig struct {
	RepositoryURL string            `json:"repository_url"`
	Revision      *string           `json:"revision,omitempty"`
	PlaybookPath  string            `json:"playbook_path"`
	VaultPassword *string           `json:"vault_password,omitempty"`
	ExtraVars     map[string]string `json:"extra_vars"`
}

type PuppetConfig struct {
	Server      string  `json:"server"`
	Environment *string `json:"environment,omitempty"`
	CertName    *string `json:"certname,omitempty"`
	Daemon      bool    `json:"daemon"`
}

type ChefConfig struct {
	ServerURL             string   `json:"server_url"`
	NodeName              string   `json:"node_name"`
	ValidationClientName  string   `json:"validation_client_name"`
	ValidationKey         string   `json:"validation_key"`
	RunList               []string `json:"run_list"`
}

// PowerStateConfig describes the machine's desired post-apply power state.
type PowerStateMode string

const (
	PowerNoop     PowerStateMode = "noop"
	PowerHalt     PowerStateMode = "halt"
	PowerPoweroff PowerStateMode = "poweroff"
	PowerReboot   PowerStateMode = "reboot"
)

type PowerStateConfig struct {
	Mode    PowerStateMode `json:"mode"`
	Delay   *uint64        `json:"delay,omitempty"`
	Message *string        `json:"message,omitempty"`
}

// ContainerConfig groups zones, jails and Linux containers.
type ContainerConfig struct {
	Zones      []ZoneConfig          `json:"zones"`
	Jails      []JailConfig          `json:"jails"`
	Containers []LinuxContainerConfig `json:"containers"`
}

type ZoneState string

const (
	ZoneConfigured ZoneState = "configured"
	ZoneInstalled  ZoneState = "installed"
	ZoneRunning    ZoneState = "running"
)

// ZoneConfig nests a UnifiedConfig. In Go the nested field is naturally
// indirect via the pointer, no explicit boxing is required the way Rust
// needs Box<UnifiedConfig> to keep the type finite.
type ZoneConfig struct {
	Name       string                 `json:"name"`
	Brand      string                 `json:"brand"`
	State      ZoneState              `json:"state"`
	ZonePath   string                 `json:"zonepath"`
	Networks   []ZoneNetworkConfig    `json:"networks"`
	Resources  *ZoneResourceConfig    `json:"resources,omitempty"`
	Properties map[string]string      `json:"properties"`
	SysConfig  *UnifiedConfig         `json:"sysconfig,omitempty"`
}

type ZoneNetworkConfig struct {
	Interface string  `json:"interface"`
	Physical  string  `json:"physical"`
	Address   *string `json:"address,omitempty"`
	DefRouter *string `json:"defrouter,omitempty"`
}

type ZoneResourceConfig struct {
	CPUCap            *float64 `json:"cpu_cap,omitempty"`
	CPUShares         *uint32  `json:"cpu_shares,omitempty"`
	PhysicalMemoryCap *string  `json:"physical_memory_cap,omitempty"`
	SwapMemoryCap     *string  `json:"swap_memory_cap,omitempty"`
}

type JailConfig struct {
	Name        string            `json:"name"`
	JID         *uint32           `json:"jid,omitempty"`
	Path        string            `json:"path"`
	Hostname    string            `json:"hostname"`
	IPAddresses []string          `json:"ip_addresses"`
	Interfaces  []string          `json:"interfaces"`
	Parameters  map[string]string `json:"parameters"`
	AutoStart   bool              `json:"auto_start"`
	SysConfig   *UnifiedConfig    `json:"sysconfig,omitempty"`
}

type ContainerRuntime string

const (
	RuntimeDocker     ContainerRuntime = "docker"
	RuntimePodman     ContainerRuntime = "podman"
	RuntimeContainerd ContainerRuntime = "containerd"
)

type ContainerState string

const (
	ContainerCreated ContainerState = "created"
	ContainerRunning ContainerState = "running"
	ContainerStopped ContainerState = "stopped"
)

type LinuxContainerConfig struct {
	Name        string                     `json:"name"`
	Image       string                     `json:"image"`
	Runtime     ContainerRuntime           `json:"runtime"`
	State       ContainerState             `json:"state"`
	Environment map[string]string          `json:"environment"`
	Volumes     []ContainerVolumeConfig    `json:"volumes"`
	Ports       []ContainerPortConfig      `json:"ports"`
	Networks    []string                   `json:"networks"`
	Resources   *ContainerResourceConfig   `json:"resources,omitempty"`
	SysConfig   *UnifiedConfig             `json:"sysconfig,omitempty"`
}

type ContainerMountType string

const (
	MountBind  ContainerMountType = "bind"
	MountVol   ContainerMountType = "volume"
	MountTmpfs ContainerMountType = "tmpfs"
)

type ContainerVolumeConfig struct {
	Source    string             `json:"source"`
	Target    string             `json:"target"`
	MountType ContainerMountType `json:"mount_type"`
	Options   []string           `json:"options"`
}

type ContainerProtocol string

const (
	ProtocolTCP ContainerProtocol = "tcp"
	ProtocolUDP ContainerProtocol = "udp"
)

type ContainerPortConfig struct {
	HostPort      uint16            `json:"host_port"`
	ContainerPort uint16            `json:"container_port"`
	Protocol      ContainerProtocol `json:"protocol"`
	HostIP        *string           `json:"host_ip,omitempty"`
}

type ContainerResourceConfig struct {
	CPULimit         *float64 `json:"cpu_limit,omitempty"`
	MemoryLimit      *string  `json:"memory_limit,omitempty"`
	MemorySwapLimit  *string  `json:"memory_swap_limit,omitempty"`
}

// Validate checks the exhaustive set of cross-field invariants from
// spec.md §4.1: unique user names, unique interface names, unique pool
// names. It is total and synchronous.
func (c *UnifiedConfig) Validate() error {
	seenUsers := make(map[string]struct{}, len(c.Users))
	for _, u := range c.Users {
		if _, ok := seenUsers[u.Name]; ok {
			return sysconfigerr.Newf(sysconfigerr.Validation, "duplicate user name: %s", u.Name)
		}
		seenUsers[u.Name] = struct{}{}
	}

	if c.Networking != nil {
		seenIfaces := make(map[string]struct{}, len(c.Networking.Interfaces))
		for _, iface := range c.Networking.Interfaces {
			if _, ok := seenIfaces[iface.Name]; ok {
				return sysconfigerr.Newf(sysconfigerr.Validation, "duplicate interface name: %s", iface.Name)
			}
			seenIfaces[iface.Name] = struct{}{}
		}
	}

	if c.Storage != nil {
		seenPools := make(map[string]struct{}, len(c.Storage.Pools))
		for _, pool := range c.Storage.Pools {
			if _, ok := seenPools[pool.Name]; ok {
				return sysconfigerr.Newf(sysconfigerr.Validation, "duplicate storage pool name: %s", pool.Name)
			}
			seenPools[pool.Name] = struct{}{}
		}
	}

	return nil
}

// ToJSON serializes the configuration with indentation for human
// consumption (e.g. written to a local config file or CLI output).
func (c *UnifiedConfig) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ToCanonicalJSON serializes the configuration with sorted object keys
// and no extraneous whitespace, suitable for hashing.
func (c *UnifiedConfig) ToCanonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON rewrites a JSON document with object keys sorted and
// no insignificant whitespace, so that two documents that are semantically
// equal always hash identically. Shared by schema.ToCanonicalJSON and the
// state store's revision hashing.
func CanonicalizeJSON(data []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid JSON", err)
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// FromJSON parses and validates a configuration document.
func FromJSON(data []byte) (*UnifiedConfig, error) {
	var c UnifiedConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, sysconfigerr.Wrap(sysconfigerr.InvalidArgument, "invalid configuration JSON", err)
	}
	if c.Users == nil {
		c.Users = []UserConfig{}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
