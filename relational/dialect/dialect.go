package dialect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
)

type Kind int

const (
	SQLServer Kind = iota + 1
	PostgreSQL
	MySQL
)

func (k Kind) String() string {
	switch k {
	case SQLServer:
		return "sqlserver"
	case PostgreSQL:
		return "postgres"
	case MySQL:
		return "mysql"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Interceptor mutates a command right before it is sent to the server.
type Interceptor func(*Command)

func NoOpInterceptor(*Command) {}

// Dialect is the quoting and capability profile of one database vendor.
type Dialect struct {
	Kind                        Kind
	StartEscape                 byte
	EndEscape                   byte
	UnionAllSelectTemplate      string
	IsSynchronousOnly           bool
	SupportsStreamNatively      bool
	SupportsCommandCancellation bool
	Interceptor                 Interceptor
}

type ConfigurationError struct {
	Name string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown database dialect %q (supported: sqlserver, postgres, mysql)", e.Name)
}

// Lookup resolves a configured dialect name, either a short vendor name or an
// ADO.NET style invariant name, into its profile.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlserver", "mssql", "microsoft.data.sqlclient", "system.data.sqlclient":
		return Profile(SQLServer), nil
	case "postgres", "postgresql", "pgx", "npgsql":
		return Profile(PostgreSQL), nil
	case "mysql", "mysql.data.mysqlclient", "mysql.data.mysqlconnector":
		return Profile(MySQL), nil
	default:
		return Dialect{}, &ConfigurationError{Name: name}
	}
}

func Profile(kind Kind) Dialect {
	switch kind {
	case SQLServer:
		return Dialect{
			Kind:                        SQLServer,
			StartEscape:                 '[',
			EndEscape:                   ']',
			UnionAllSelectTemplate:      " UNION ALL SELECT ",
			SupportsStreamNatively:      true,
			SupportsCommandCancellation: true,
			Interceptor:                 sqlServerInterceptor,
		}
	case PostgreSQL:
		return Dialect{
			Kind:                        PostgreSQL,
			StartEscape:                 '"',
			EndEscape:                   '"',
			UnionAllSelectTemplate:      " UNION ALL SELECT ",
			SupportsStreamNatively:      true,
			SupportsCommandCancellation: true,
			Interceptor:                 NoOpInterceptor,
		}
	case MySQL:
		return Dialect{
			Kind:                   MySQL,
			StartEscape:            '`',
			EndEscape:              '`',
			UnionAllSelectTemplate: " UNION ALL SELECT ",
			IsSynchronousOnly:      true,
			Interceptor:            mySQLInterceptor,
		}
	default:
		panic(fmt.Sprintf("dialect: no profile for %v", kind))
	}
}

func (d Dialect) String() string {
	return d.Kind.String()
}

func (d Dialect) Intercept(cmd *Command) {
	if d.Interceptor != nil {
		d.Interceptor(cmd)
	}
}

// Quote escapes every dot separated part of a (possibly schema qualified)
// identifier.
func (d Dialect) Quote(identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		if d.Kind == PostgreSQL {
			parts[i] = pq.QuoteIdentifier(part)
			continue
		}
		escaped := strings.ReplaceAll(part, string(d.EndEscape), string(d.EndEscape)+string(d.EndEscape))
		parts[i] = string(d.StartEscape) + escaped + string(d.EndEscape)
	}
	return strings.Join(parts, ".")
}

// CallText renders the stored procedure invocation for cmd using positional
// '?' placeholders, along with the matching arguments.
func (d Dialect) CallText(cmd *Command) (string, []interface{}) {
	var b strings.Builder
	procedure := d.Quote(cmd.Procedure)

	switch d.Kind {
	case SQLServer:
		b.WriteString("EXEC ")
		b.WriteString(procedure)
		for i, p := range cmd.Params {
			if i == 0 {
				b.WriteString(" @")
			} else {
				b.WriteString(", @")
			}
			b.WriteString(p.Name)
			b.WriteString(" = ?")
		}
	case PostgreSQL:
		b.WriteString("SELECT * FROM ")
		b.WriteString(procedure)
		b.WriteString("(")
		for i, p := range cmd.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pq.QuoteIdentifier(p.Name))
			b.WriteString(" => ?")
		}
		b.WriteString(")")
	case MySQL:
		b.WriteString("CALL ")
		b.WriteString(procedure)
		b.WriteString("(")
		for i := range cmd.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
		}
		b.WriteString(")")
	}

	return b.String(), cmd.Args()
}

func (d Dialect) Dialector(dsn string) gorm.Dialector {
	switch d.Kind {
	case SQLServer:
		return sqlserver.Open(dsn)
	case MySQL:
		return gormmysql.Open(dsn)
	default:
		return postgres.Open(dsn)
	}
}

// IsDuplicateKey reports whether err is the vendor's unique constraint
// violation.
func (d Dialect) IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}

	switch d.Kind {
	case PostgreSQL:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return pgErr.Code == "23505"
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			return pqErr.Code == "23505"
		}
	case SQLServer:
		var msErr mssql.Error
		if errors.As(err, &msErr) {
			return msErr.Number == 2601 || msErr.Number == 2627
		}
	case MySQL:
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) {
			return myErr.Number == 1062
		}
	}

	return false
}

// sqlServerInterceptor sends ANSI parameters as varchar so the server does not
// widen indexed varchar columns to nvarchar during comparison.
func sqlServerInterceptor(cmd *Command) {
	for i, p := range cmd.Params {
		if p.Type != AnsiString {
			continue
		}
		if s, ok := p.Value.(string); ok {
			if p.Size > 8000 {
				cmd.Params[i].Value = mssql.VarCharMax(s)
			} else {
				cmd.Params[i].Value = mssql.VarChar(s)
			}
		}
	}
}

// DATETIME(6) columns carry neither a zone nor sub-microsecond precision.
func mySQLInterceptor(cmd *Command) {
	for i, p := range cmd.Params {
		if t, ok := p.Value.(time.Time); ok {
			cmd.Params[i].Value = t.UTC().Truncate(time.Microsecond)
		}
	}
}
