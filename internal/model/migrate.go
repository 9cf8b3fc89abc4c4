package model

import "gorm.io/gorm"

// AutoMigrate 建立全部数据表，由 crawler 进程在启动时调用。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Project{},
		&BidSection{},
		&Bid{},
		&BidRank{},
		&CompanyInfo{},
		&EmployeeInfo{},
		&PersonPerformance{},
		&WinnerBidInfo{},
	)
}
