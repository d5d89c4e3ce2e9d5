package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsValid(t *testing.T) {
	c := New()
	require.NoError(t, c.Validate())
}

func TestValidateDuplicateUser(t *testing.T) {
	c := New()
	c.Users = []UserConfig{
		{Name: "alice", Authentication: AuthenticationConfig{}},
		{Name: "alice", Authentication: AuthenticationConfig{}},
	}
	err := c.Validate()
	require.Error(t, err)
}

func TestValidateDuplicateInterface(t *testing.T) {
	c := New()
	c.Networking = &NetworkingConfig{
		Interfaces: []NetworkInterfaceConfig{
			{Name: "net0"},
			{Name: "net0"},
		},
	}
	require.Error(t, c.Validate())
}

func TestValidateDuplicatePool(t *testing.T) {
	c := New()
	c.Storage = &StorageConfig{
		Pools: []StoragePoolConfig{
			{Name: "rpool", PoolType: StoragePoolZFS},
			{Name: "rpool", PoolType: StoragePoolZFS},
		},
	}
	require.Error(t, c.Validate())
}

func TestRoundTripJSON(t *testing.T) {
	c := New()
	host := "vm0"
	c.System = &SystemConfig{Hostname: &host, Environment: map[string]string{}}
	c.Users = append(c.Users, UserConfig{
		Name: "root",
		Sudo: &SudoConfig{Mode: "unrestricted"},
		Authentication: AuthenticationConfig{
			SSHKeys: []string{"ssh-ed25519 AAAA..."},
		},
	})

	data, err := c.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, "vm0", *parsed.System.Hostname)
	require.Equal(t, "unrestricted", parsed.Users[0].Sudo.Mode)
}

func TestCanonicalizeJSONSortsKeys(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	b, err := CanonicalizeJSON([]byte(`{"a":2,"b":1}`))
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))
	require.Equal(t, `{"a":2,"b":1}`, string(a))
}

func TestNestedZoneSysConfig(t *testing.T) {
	inner := New()
	inner.Users = append(inner.Users, UserConfig{Name: "zoneadmin"})

	outer := New()
	outer.Containers = &ContainerConfig{
		Zones: []ZoneConfig{
			{Name: "z1", Brand: "ipkg", State: ZoneConfigured, SysConfig: inner},
		},
	}

	data, err := outer.ToJSON()
	require.NoError(t, err)

	parsed, err := FromJSON(data)
	require.NoError(t, err)
	require.Equal(t, "zoneadmin", parsed.Containers.Zones[0].SysConfig.Users[0].Name)
}
