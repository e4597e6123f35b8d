package probe

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/recontk/recontk/internal/model"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

// Database recognizes MySQL, PostgreSQL and MSSQL by port or declared
// service name, grabs what version material the wire protocol gives
// away for free and checks whether a credential-less login is accepted.
type Database struct{}

func NewDatabase() Database { return Database{} }

func (Database) Family() string { return "database" }

func (d Database) Run(ctx context.Context, target string, rec model.PortRecord) model.ProbeResult {
	res := model.NewProbeResult(rec.Port, "database")

	dbType := databaseType(rec)
	if dbType == "" {
		res.Fail(model.ErrKindParse, "unrecognized database service on port %d", rec.Port)
		return res
	}
	res.SetField("db_type", dbType)

	if dbType == "mysql" {
		// the MySQL server speaks first, its handshake carries the version
		version, err := mysqlHandshakeVersion(ctx, target, rec.Port)
		switch {
		case err == nil:
			res.SetField("banner", version)
			res.SetField("version", mysqlVersion(version))
		case errors.Is(err, errMalformedHandshake):
			res.Fail(model.ErrKindParse, "handshake: %s", err)
			return res
		default:
			res.Fail(failKind(err), "handshake: %s", err)
			return res
		}
	}

	check, note := authCheck(ctx, dbType, target, rec.Port)
	res.SetField("auth_check", string(check))
	if note != "" {
		res.AddNote("%s", note)
	}
	return res
}

func databaseType(rec model.PortRecord) string {
	switch {
	case strings.Contains(rec.Service, "mysql") || rec.Port == 3306:
		return "mysql"
	case strings.Contains(rec.Service, "postgres") || rec.Port == 5432:
		return "postgresql"
	case strings.Contains(rec.Service, "ms-sql") || rec.Port == 1433:
		return "mssql"
	}
	return ""
}

// authCheck attempts a login with empty credentials. The answer is
// three-valued: an unreachable server or an expired budget is
// "not_checked", not a silent false.
func authCheck(ctx context.Context, dbType, target string, port int) (model.AuthCheck, string) {
	driver, dsn := dsnFor(dbType, target, port)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return model.AuthNotChecked, fmt.Sprintf("auth check: %s", err)
	}
	defer func() {
		_ = db.Close()
	}()

	err = db.PingContext(ctx)
	var nerr net.Error
	switch {
	case err == nil:
		return model.AuthNotRequired, ""
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()):
		return model.AuthNotChecked, fmt.Sprintf("auth check timed out: %s", err)
	case errors.As(err, new(*net.OpError)):
		return model.AuthNotChecked, fmt.Sprintf("auth check: %s", err)
	default:
		// the server answered and rejected the empty credentials
		return model.AuthRequired, ""
	}
}

func dsnFor(dbType, target string, port int) (driver, dsn string) {
	addr := net.JoinHostPort(target, strconv.Itoa(port))
	switch dbType {
	case "mysql":
		return "mysql", fmt.Sprintf("root:@tcp(%s)/?timeout=5s&readTimeout=5s", addr)
	case "postgresql":
		return "postgres", fmt.Sprintf("postgres://postgres:@%s/postgres?sslmode=disable&connect_timeout=5", addr)
	default:
		return "sqlserver", fmt.Sprintf("sqlserver://sa:@%s?dial+timeout=5", addr)
	}
}

// mysqlHandshakeVersion reads the initial handshake packet: 3 byte
// little-endian payload length, sequence byte, protocol version byte,
// then the NUL-terminated server version.
func mysqlHandshakeVersion(ctx context.Context, target string, port int) (string, error) {
	data, err := readRaw(ctx, target, port)
	if err != nil {
		return "", err
	}
	return parseMySQLHandshake(data)
}

// errMalformedHandshake marks handshake bytes that could not be parsed.
// A hostile or broken server must yield a parse error, never a panic.
var errMalformedHandshake = errors.New("malformed handshake")

func parseMySQLHandshake(data []byte) (string, error) {
	if len(data) < 6 {
		return "", fmt.Errorf("%w: too short (%d bytes)", errMalformedHandshake, len(data))
	}

	payloadLen := int(binary.LittleEndian.Uint32(append(data[:3:3], 0)))
	if payloadLen == 0 {
		return "", fmt.Errorf("%w: zero length payload", errMalformedHandshake)
	}
	payload := data[4:]
	if payloadLen < len(payload) {
		payload = payload[:payloadLen]
	}
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: truncated payload", errMalformedHandshake)
	}
	if payload[0] == 0xff {
		return "", fmt.Errorf("server refused handshake")
	}

	rest := payload[1:]
	end := 0
	for end < len(rest) && rest[end] != 0 {
		end++
	}
	if end == 0 {
		return "", fmt.Errorf("%w: empty server version", errMalformedHandshake)
	}
	return string(rest[:end]), nil
}

// mysqlVersion strips the build suffix: 5.7.33-0ubuntu0.18.04.1 -> 5.7.33.
func mysqlVersion(banner string) string {
	version, _, _ := strings.Cut(banner, "-")
	return version
}

func readRaw(ctx context.Context, target string, port int) ([]byte, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = conn.Close()
	}()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
