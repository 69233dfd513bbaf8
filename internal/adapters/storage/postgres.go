package storage

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
)

// postgresPacketModel uses native inet/macaddr text-format columns rather
// than the binary codec sqlitePacketModel needs, since Postgres already has
// first-class types for both.
type postgresPacketModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SrcMAC     string    `gorm:"column:src_mac;type:macaddr;not null"`
	DstMAC     string    `gorm:"column:dst_mac;type:macaddr;not null"`
	EtherType  int32     `gorm:"column:ether_type"`
	SrcIP      string    `gorm:"column:src_ip;type:inet"`
	DstIP      string    `gorm:"column:dst_ip;type:inet;index:idx_pg_packets_dst"`
	SrcPort    int32     `gorm:"column:src_port"`
	DstPort    int32     `gorm:"column:dst_port"`
	IPProtocol int32     `gorm:"column:ip_protocol;index"`
	Timestamp  time.Time `gorm:"column:timestamp;index:idx_pg_packets_timestamp,sort:desc"`
	Data       []byte    `gorm:"column:data"`
	Raw        []byte    `gorm:"column:raw"`
}

func (postgresPacketModel) TableName() string { return "packets" }

// maxPoolConns bounds the connection pool; every store operation holds one
// connection for the duration of a single logical operation.
const maxPoolConns = 10

// PostgresConfig holds the DB_HOST/DB_PORT/DB_USER/DB_PASSWORD/DB_NAME
// environment keys.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// PostgresStore implements ports.PacketStore for the production Timescale-
// style hypertable: gorm.Open + AutoMigrate against the postgres driver,
// with the otel tracing plugin wired the same way SQLiteStore wires it.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a connection pool to the configured Postgres
// instance.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrConfig, err)
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("postgres otel plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxPoolConns)
	sqlDB.SetMaxIdleConns(maxPoolConns / 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Migrate creates the packets hypertable (best-effort create_hypertable call
// when TimescaleDB is present) plus the rules table and their indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&postgresPacketModel{}, &RuleModel{}); err != nil {
		return fmt.Errorf("postgres automigrate: %w", err)
	}
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON packets(timestamp DESC)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_src_dst ON packets(src_ip, dst_ip)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_protocol ON packets(ip_protocol)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(rule_type)")
	// create_hypertable is a no-op error when the timescaledb extension
	// isn't installed; we tolerate that rather than fail startup, since a
	// plain Postgres instance is a valid deployment target too.
	s.db.Exec("SELECT create_hypertable('packets', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)")
	return nil
}

func ipToInetText(ip domain.IP) string {
	addr := net.IP(ip.Addr).String()
	if ip.Prefix != 0 && int(ip.Prefix) != len(ip.Addr)*8 {
		return fmt.Sprintf("%s/%d", addr, ip.Prefix)
	}
	return addr
}

func inetTextToIP(s string) domain.IP {
	addrPart := s
	var prefix uint8
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		addrPart = s[:idx]
	}
	parsed := net.ParseIP(addrPart)
	v4 := parsed.To4()
	if v4 != nil {
		if prefix == 0 {
			prefix = 32
		}
		return domain.IP{Addr: v4, Prefix: prefix}
	}
	if prefix == 0 {
		prefix = 128
	}
	return domain.IP{Addr: parsed.To16(), Prefix: prefix}
}

func rowToPostgresModel(r domain.StoredRow) postgresPacketModel {
	return postgresPacketModel{
		SrcMAC:     r.SrcMAC.String(),
		DstMAC:     r.DstMAC.String(),
		EtherType:  int32(r.EtherType),
		SrcIP:      ipToInetText(r.SrcIP),
		DstIP:      ipToInetText(r.DstIP),
		SrcPort:    int32(r.SrcPort),
		DstPort:    int32(r.DstPort),
		IPProtocol: int32(r.Protocol),
		Timestamp:  r.Timestamp.UTC(),
		Data:       r.Data,
		Raw:        r.RawPacket,
	}
}

func postgresModelToRow(m postgresPacketModel) domain.StoredRow {
	srcMAC, _ := net.ParseMAC(m.SrcMAC)
	dstMAC, _ := net.ParseMAC(m.DstMAC)
	return domain.StoredRow{
		ID:        m.ID,
		SrcMAC:    srcMAC,
		DstMAC:    dstMAC,
		EtherType: domain.EtherType(m.EtherType),
		SrcIP:     inetTextToIP(m.SrcIP),
		DstIP:     inetTextToIP(m.DstIP),
		SrcPort:   uint16(m.SrcPort),
		DstPort:   uint16(m.DstPort),
		Protocol:  uint8(m.IPProtocol),
		Timestamp: m.Timestamp,
		Data:      m.Data,
		RawPacket: m.Raw,
	}
}

// InsertBatch commits rows inside a single transaction, issuing one
// multi-row INSERT per domain.DefaultInsertChunkSize-sized chunk. A failing
// chunk rolls back the whole transaction so the caller (staging.BatchWriter)
// can requeue the entire batch rather than just the failed chunk.
func (s *PostgresStore) InsertBatch(ctx context.Context, rows []domain.StoredRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	models := make([]postgresPacketModel, len(rows))
	for i, r := range rows {
		models[i] = rowToPostgresModel(r)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, domain.DefaultInsertChunkSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return len(models), nil
}

// PollSince serves the poller's three window variants — first-call
// bootstrap, steady-state timestamp>since, and a transient-nil short
// lookback — all filtering on raw length and destination
// address (host match or broadcast/multicast).
func (s *PostgresStore) PollSince(ctx context.Context, localIP []byte, since time.Time, window time.Duration) ([]domain.StoredRow, error) {
	local := net.IP(localIP).String()
	q := s.db.WithContext(ctx).Model(&postgresPacketModel{}).
		Where("length(raw) <= ?", domain.MaxFrameSize).
		Where("(dst_ip = ? OR dst_ip = '255.255.255.255' OR dst_ip << '224.0.0.0/4')", local)

	if window > 0 {
		q = q.Where("timestamp >= ?", time.Now().Add(-window).UTC())
	}
	if !since.IsZero() {
		q = q.Where("timestamp > ?", since.UTC())
	}

	var models []postgresPacketModel
	if err := q.Order("timestamp ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	rows := make([]domain.StoredRow, len(models))
	for i, m := range models {
		rows[i] = postgresModelToRow(m)
	}
	return rows, nil
}

// Stats reports pool-level health for telemetry.
func (s *PostgresStore) Stats() ports.StoreStats {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ports.StoreStats{}
	}
	st := sqlDB.Stats()
	return ports.StoreStats{OpenConnections: st.OpenConnections, InUse: st.InUse, Idle: st.Idle}
}

// LoadRules returns every enabled firewall rule, highest priority first.
func (s *PostgresStore) LoadRules(ctx context.Context) ([]domain.Rule, error) {
	return loadEnabledRules(ctx, s.db)
}

// SaveRule upserts a rule, assigning it a uuid ID if new.
func (s *PostgresStore) SaveRule(ctx context.Context, r domain.Rule, action string, enabled bool) (domain.Rule, error) {
	return saveRule(ctx, s.db, r, action, enabled)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
