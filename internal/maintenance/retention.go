package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// The event tables are partitioned by day (toYYYYMMDD), so a partition id
// is an eight-digit date.
var validPartitionID = regexp.MustCompile(`^\d{8}$`)

var partitionedTables = []string{"bgp_events", "threat_events", "api_requests"}

// RetentionManager drops event-store partitions older than the configured
// retention window. Dropping whole partitions keeps the cleanup cheap no
// matter how large the tables grow.
type RetentionManager struct {
	conn          driver.Conn
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

func NewRetentionManager(conn driver.Conn, retentionDays int, timezone string, logger *zap.Logger) *RetentionManager {
	return &RetentionManager{
		conn:          conn,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
	}
}

func (rm *RetentionManager) Run(ctx context.Context) error {
	loc, err := time.LoadLocation(rm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", rm.timezone, err)
	}
	cutoff := time.Now().In(loc).AddDate(0, 0, -rm.retentionDays).Format("20060102")

	for _, table := range partitionedTables {
		if err := rm.dropOldPartitions(ctx, table, cutoff); err != nil {
			return err
		}
	}
	return nil
}

func (rm *RetentionManager) dropOldPartitions(ctx context.Context, table, cutoff string) error {
	rows, err := rm.conn.Query(ctx, `
		SELECT DISTINCT partition
		FROM system.parts
		WHERE database = currentDatabase() AND table = ? AND active`, table)
	if err != nil {
		return fmt.Errorf("listing partitions of %s: %w", table, err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var partition string
		if err := rows.Scan(&partition); err != nil {
			return fmt.Errorf("scan partition: %w", err)
		}
		if !validPartitionID.MatchString(partition) {
			rm.logger.Warn("skipping unexpected partition id",
				zap.String("table", table),
				zap.String("partition", partition),
			)
			continue
		}
		if partition < cutoff {
			stale = append(stale, partition)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating partitions of %s: %w", table, err)
	}

	for _, partition := range stale {
		drop := fmt.Sprintf("ALTER TABLE %s DROP PARTITION '%s'", table, partition)
		if err := rm.conn.Exec(ctx, drop); err != nil {
			return fmt.Errorf("dropping partition %s of %s: %w", partition, table, err)
		}
		rm.logger.Info("partition dropped",
			zap.String("table", table),
			zap.String("partition", partition),
		)
	}
	return nil
}
