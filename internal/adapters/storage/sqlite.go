package storage

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dradis-net/rdbtunnel/internal/core/domain"
	"github.com/dradis-net/rdbtunnel/internal/core/ports"
)

// sqlitePacketModel stores MAC/IP columns using the bit-exact binary codec
// from domain.EncodeMAC/EncodeInet, since SQLite has no native macaddr/inet
// types.
type sqlitePacketModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	SrcMAC     []byte    `gorm:"column:src_mac;type:blob;not null"`
	DstMAC     []byte    `gorm:"column:dst_mac;type:blob;not null"`
	EtherType  int32     `gorm:"column:ether_type"`
	SrcIP      []byte    `gorm:"column:src_ip;type:blob"`
	DstIP      []byte    `gorm:"column:dst_ip;type:blob;index:idx_sqlite_packets_dst"`
	SrcPort    int32     `gorm:"column:src_port"`
	DstPort    int32     `gorm:"column:dst_port"`
	IPProtocol int32     `gorm:"column:ip_protocol;index"`
	Timestamp  time.Time `gorm:"column:timestamp;index:idx_sqlite_packets_timestamp"`
	Data       []byte    `gorm:"column:data"`
	Raw        []byte    `gorm:"column:raw"`
}

func (sqlitePacketModel) TableName() string { return "packets" }

// SQLiteStore implements ports.PacketStore for local/dev/test use: gorm.Open
// + AutoMigrate, otel tracing plugin, PRAGMA tuning, manual index creation.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (creating if absent) the SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %v", domain.ErrConfig, path, err)
	}

	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, fmt.Errorf("sqlite otel plugin: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA synchronous=NORMAL;")

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the packets and rules tables plus their indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&sqlitePacketModel{}, &RuleModel{}); err != nil {
		return fmt.Errorf("sqlite automigrate: %w", err)
	}
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_timestamp ON packets(timestamp)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_src_dst ON packets(src_ip, dst_ip)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_packets_protocol ON packets(ip_protocol)")
	s.db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_type ON rules(rule_type)")
	return nil
}

func rowToSQLiteModel(r domain.StoredRow) sqlitePacketModel {
	return sqlitePacketModel{
		SrcMAC:     domain.EncodeMAC(r.SrcMAC),
		DstMAC:     domain.EncodeMAC(r.DstMAC),
		EtherType:  int32(r.EtherType),
		SrcIP:      domain.EncodeInet(r.SrcIP),
		DstIP:      domain.EncodeInet(r.DstIP),
		SrcPort:    int32(r.SrcPort),
		DstPort:    int32(r.DstPort),
		IPProtocol: int32(r.Protocol),
		Timestamp:  r.Timestamp.UTC(),
		Data:       r.Data,
		Raw:        r.RawPacket,
	}
}

func sqliteModelToRow(m sqlitePacketModel) domain.StoredRow {
	srcIP, _ := domain.DecodeInet(m.SrcIP)
	dstIP, _ := domain.DecodeInet(m.DstIP)
	return domain.StoredRow{
		ID:        m.ID,
		SrcMAC:    net.HardwareAddr(m.SrcMAC),
		DstMAC:    net.HardwareAddr(m.DstMAC),
		EtherType: domain.EtherType(m.EtherType),
		SrcIP:     srcIP,
		DstIP:     dstIP,
		SrcPort:   uint16(m.SrcPort),
		DstPort:   uint16(m.DstPort),
		Protocol:  uint8(m.IPProtocol),
		Timestamp: m.Timestamp,
		Data:      m.Data,
		RawPacket: m.Raw,
	}
}

// InsertBatch commits rows inside a single transaction, issuing one
// multi-row INSERT per domain.DefaultInsertChunkSize-sized chunk: if any
// chunk fails, the whole transaction rolls back and no partial commit is
// visible, so the caller (staging.BatchWriter) can safely requeue the entire
// batch on error.
func (s *SQLiteStore) InsertBatch(ctx context.Context, rows []domain.StoredRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	models := make([]sqlitePacketModel, len(rows))
	for i, r := range rows {
		models[i] = rowToSQLiteModel(r)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&models, domain.DefaultInsertChunkSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}
	return len(models), nil
}

// PollSince returns rows with timestamp after since, honoring the
// bootstrap/transient windows the caller (poller.Poller) computes. It
// filters only on raw length and timestamp: localIP is not used, and
// destination matching (host, broadcast, multicast) is left to the poller.
func (s *SQLiteStore) PollSince(ctx context.Context, localIP []byte, since time.Time, window time.Duration) ([]domain.StoredRow, error) {
	q := s.db.WithContext(ctx).Model(&sqlitePacketModel{}).Where("length(raw) <= ?", domain.MaxFrameSize)

	if window > 0 {
		q = q.Where("timestamp >= ?", time.Now().Add(-window).UTC())
	}
	if !since.IsZero() {
		q = q.Where("timestamp > ?", since.UTC())
	}

	var models []sqlitePacketModel
	if err := q.Order("timestamp ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransientStore, err)
	}

	rows := make([]domain.StoredRow, len(models))
	for i, m := range models {
		rows[i] = sqliteModelToRow(m)
	}
	return rows, nil
}

// Stats reports pool-level health via gorm's underlying sql.DB.
func (s *SQLiteStore) Stats() ports.StoreStats {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ports.StoreStats{}
	}
	st := sqlDB.Stats()
	return ports.StoreStats{OpenConnections: st.OpenConnections, InUse: st.InUse, Idle: st.Idle}
}

// LoadRules returns every enabled firewall rule, highest priority first.
func (s *SQLiteStore) LoadRules(ctx context.Context) ([]domain.Rule, error) {
	return loadEnabledRules(ctx, s.db)
}

// SaveRule upserts a rule, assigning it a uuid ID if new.
func (s *SQLiteStore) SaveRule(ctx context.Context, r domain.Rule, action string, enabled bool) (domain.Rule, error) {
	return saveRule(ctx, s.db, r, action, enabled)
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("storage: sqlite close error: %v", err)
		return err
	}
	return nil
}
