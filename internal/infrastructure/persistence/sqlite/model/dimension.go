package model

type Repo struct {
	ID            int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	Owner         string  `gorm:"column:owner;type:text;not null"`
	Name          string  `gorm:"column:name;type:text;not null"`
	FullName      string  `gorm:"column:full_name;type:text;not null;uniqueIndex"`
	DefaultBranch string  `gorm:"column:default_branch;type:text;not null;default:''"`
	Private       bool    `gorm:"column:private;not null;default:0"`
	CreatedAt     *string `gorm:"column:created_at;type:text;autoCreateTime:false"`
	UpdatedAt     *string `gorm:"column:updated_at;type:text;autoUpdateTime:false"`
	PushedAt      *string `gorm:"column:pushed_at;type:text"`
}

func (Repo) TableName() string {
	return "repos"
}

type User struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Login     string `gorm:"column:login;type:text;not null;index"`
	Type      string `gorm:"column:type;type:text;not null;default:''"`
	SiteAdmin bool   `gorm:"column:site_admin;not null;default:0"`
}

func (User) TableName() string {
	return "users"
}

type Team struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Slug string `gorm:"column:slug;type:text;not null"`
	Name string `gorm:"column:name;type:text;not null;default:''"`
}

func (Team) TableName() string {
	return "teams"
}

type Label struct {
	RepoID      int64  `gorm:"column:repo_id;primaryKey;autoIncrement:false"`
	Name        string `gorm:"column:name;type:text;primaryKey"`
	LabelID     int64  `gorm:"column:label_id;not null;default:0"`
	Color       string `gorm:"column:color;type:text;not null;default:''"`
	Description string `gorm:"column:description;type:text;not null;default:''"`
}

func (Label) TableName() string {
	return "labels"
}

type Milestone struct {
	ID     int64   `gorm:"column:id;primaryKey;autoIncrement:false"`
	RepoID int64   `gorm:"column:repo_id;not null;index"`
	Number int     `gorm:"column:number;not null"`
	Title  string  `gorm:"column:title;type:text;not null"`
	State  string  `gorm:"column:state;type:text;not null;default:''"`
	DueOn  *string `gorm:"column:due_on;type:text"`
}

func (Milestone) TableName() string {
	return "milestones"
}
