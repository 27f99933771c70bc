package model

import "time"

// Repository 代码仓库
type Repository struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	Address   string    `json:"address" gorm:"size:512;not null"` // 不带协议, 例如 github.com/org/repo.git
	Username  string    `json:"username" gorm:"size:128"`
	Pwd       string    `json:"-" gorm:"size:256"`
	LocalPath string    `json:"local_path" gorm:"size:512"` // 为空时使用 workspace_dir/RepoName(address)
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Repository) TableName() string { return "repos" }

// Task 构建任务. Steps 以 JSON 数组落库.
type Task struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	Name       string    `json:"name" gorm:"size:128;not null"`
	RepoID     uint      `json:"repo_id" gorm:"index;not null"`
	BranchName string    `json:"branch_name" gorm:"size:128;not null"`
	Steps      []string  `json:"steps" gorm:"serializer:json;type:text"`
	Status     string    `json:"status" gorm:"size:32"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

// BuildSpec is what a build needs to know about a task, resolved in one lookup.
type BuildSpec struct {
	ID            uint
	Name          string
	BranchName    string
	Steps         []string
	RepoAddress   string
	RepoLocalPath string
}

// Page 分页结果
type Page[T any] struct {
	Rows  []T   `json:"rows"`
	Total int64 `json:"total"`
}
