package gormdb

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	mysqlDriver "gorm.io/driver/mysql"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dialector(ds *DataSourceConfig) (gorm.Dialector, error) {
	dsn, err := buildDSN(ds)
	if err != nil {
		return nil, err
	}
	switch ds.Driver {
	case DriverPostgres:
		return gormpg.Open(dsn), nil
	case DriverMySQL, "":
		return mysqlDriver.New(mysqlDriver.Config{DSN: dsn}), nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", ds.Driver)
	}
}

// buildDSN builds a DSN from the datasource pieces if DSN is not provided.
func buildDSN(ds *DataSourceConfig) (string, error) {
	if strings.TrimSpace(ds.DSN) != "" {
		return ds.DSN, nil
	}
	if ds.Host == "" || ds.User == "" || ds.Database == "" {
		return "", errors.New("host, user, database required when dsn not provided")
	}
	if ds.Driver == DriverPostgres {
		return postgresDSN(ds), nil
	}
	port := ds.Port
	if port == 0 {
		port = 3306
	}
	params := url.Values{}
	params.Set("parseTime", "true")
	params.Set("charset", "utf8mb4")
	params.Set("loc", "Local")
	for k, v := range ds.Params {
		params.Set(k, v)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", ds.User, ds.Password, ds.Host, port, ds.Database, params.Encode()), nil
}

// postgresDSN renders a libpq keyword/value string with params in sorted order.
func postgresDSN(ds *DataSourceConfig) string {
	port := ds.Port
	if port == 0 {
		port = 5432
	}
	base := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d", ds.Host, ds.User, ds.Password, ds.Database, port)
	keys := make([]string, 0, len(ds.Params))
	for k := range ds.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base += fmt.Sprintf(" %s=%s", k, ds.Params[k])
	}
	return base
}
