package probe

import (
	"testing"

	"github.com/recontk/recontk/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSSHVersion(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		banner string
		want   string
	}{
		{"SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5", "OpenSSH_8.2p1 Ubuntu-4ubuntu0.5"},
		{"SSH-2.0-dropbear_2020.81", "dropbear_2020.81"},
		{"SSH-2.0", "SSH-2.0"},
		{"not an ssh banner", "not an ssh banner"},
	}

	for _, tt := range testCases {
		assert.Equal(t, tt.want, parseSSHVersion(tt.banner), "banner %q", tt.banner)
	}
}

func TestParseShares(t *testing.T) {
	t.Parallel()
	output := `
	Sharename       Type      Comment
	---------       ----      -------
	public          Disk      Public stuff
	backups         Disk
	IPC$            IPC       IPC Service (Samba 4.13.17)
	print$          Disk      Printer Drivers
Reconnecting with SMB1 for workgroup listing.
`
	require.Equal(t, []string{"public", "backups"}, parseShares(output))
}

func TestParseSharesEmpty(t *testing.T) {
	t.Parallel()
	require.Empty(t, parseShares("session setup failed: NT_STATUS_ACCESS_DENIED"))
}

func TestDatabaseType(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		rec  model.PortRecord
		want string
	}{
		{model.PortRecord{Port: 3306}, "mysql"},
		{model.PortRecord{Port: 5432}, "postgresql"},
		{model.PortRecord{Port: 1433}, "mssql"},
		{model.PortRecord{Port: 33060, Service: "mysqlx"}, "mysql"},
		{model.PortRecord{Port: 5433, Service: "postgresql"}, "postgresql"},
		{model.PortRecord{Port: 9999}, ""},
	}

	for _, tt := range testCases {
		assert.Equal(t, tt.want, databaseType(tt.rec), "port %d service %q", tt.rec.Port, tt.rec.Service)
	}
}

func TestMySQLVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "5.7.33", mysqlVersion("5.7.33-0ubuntu0.18.04.1"))
	assert.Equal(t, "8.0.32", mysqlVersion("8.0.32"))
}
