package repository

import "time"

// 结构化字段以 JSON 文本列存储。

type WlAppModel struct {
	UUID      string `gorm:"primaryKey"`
	Region    string `gorm:"uniqueIndex:idx_wl_app_region_name"`
	Name      string `gorm:"uniqueIndex:idx_wl_app_region_name"`
	TenantID  string `gorm:"index"`
	Type      string
	Namespace string
	Owner     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WlAppModel) TableName() string { return "wl_apps" }

type ConfigModel struct {
	UUID                 string `gorm:"primaryKey"`
	AppID                string `gorm:"uniqueIndex:idx_config_app_revision"`
	Revision             int    `gorm:"uniqueIndex:idx_config_app_revision"`
	Cluster              string
	Image                string
	ResourceRequirements string `gorm:"type:text"`
	NodeSelector         string `gorm:"type:text"`
	Tolerations          string `gorm:"type:text"`
	Runtime              string `gorm:"type:text"`
	Metadata             string `gorm:"type:text"`
	CreatedAt            time.Time
}

func (ConfigModel) TableName() string { return "wl_app_configs" }

type ReleaseModel struct {
	UUID         string `gorm:"primaryKey"`
	AppID        string `gorm:"uniqueIndex:idx_release_app_version"`
	Version      int    `gorm:"uniqueIndex:idx_release_app_version"`
	BuildID      string
	ConfigID     string
	Procfile     string `gorm:"type:text"`
	Summary      string
	Failed       bool
	FailedReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ReleaseModel) TableName() string { return "releases" }

type BuildModel struct {
	UUID             string `gorm:"primaryKey"`
	ModuleID         string `gorm:"index"`
	ArtifactType     string
	Image            string
	ImageID          string
	Procfile         string `gorm:"type:text"`
	BkAppRevisionID  *int64
	ArtifactDeleted  bool
	ArtifactMetadata string `gorm:"type:text"`
	CreatedAt        time.Time
}

func (BuildModel) TableName() string { return "builds" }

type BuildProcessModel struct {
	UUID         string `gorm:"primaryKey"`
	AppID        string `gorm:"index"`
	Status       string
	BuildID      string
	LogsWasReady bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (BuildProcessModel) TableName() string { return "build_processes" }

type CommandModel struct {
	UUID      string `gorm:"primaryKey"`
	AppID     string `gorm:"index"`
	Type      string
	BuildID   string
	Command   string
	Status    string
	ExitCode  *int32
	Version   int
	Operator  string
	Logs      string `gorm:"type:text"`
	StartTime *time.Time
	EndTime   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CommandModel) TableName() string { return "commands" }

type ClusterModel struct {
	UUID                string `gorm:"primaryKey"`
	Name                string `gorm:"uniqueIndex"`
	Region              string `gorm:"index"`
	TenantID            string
	IsDefault           bool
	Description         string
	APIServers          string `gorm:"type:text"`
	CAData              string `gorm:"type:text"`
	CertData            string `gorm:"type:text"`
	KeyData             string `gorm:"type:text"`
	Token               string `gorm:"type:text"`
	IngressConfig       string `gorm:"type:text"`
	DefaultNodeSelector string `gorm:"type:text"`
	DefaultTolerations  string `gorm:"type:text"`
	FeatureFlags        string `gorm:"type:text"`
	AvailableTenantIDs  string `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (ClusterModel) TableName() string { return "clusters" }

type DomainModel struct {
	UUID         string `gorm:"primaryKey"`
	AppID        string `gorm:"index"`
	Host         string `gorm:"uniqueIndex:idx_domain_host_path"`
	PathPrefix   string `gorm:"uniqueIndex:idx_domain_host_path"`
	HTTPSEnabled bool
	Annotations  string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (DomainModel) TableName() string { return "app_domains" }

type SharedCertModel struct {
	Name         string `gorm:"primaryKey"`
	Region       string `gorm:"index"`
	TenantID     string
	AutoMatchCNs string
	Cert         string `gorm:"type:text"`
	Key          string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (SharedCertModel) TableName() string { return "app_domain_shared_certs" }

type DeployModel struct {
	UUID               string `gorm:"primaryKey"`
	AppID              string `gorm:"index"`
	BuildID            string
	BuildProcessID     string
	Operator           string
	PreReleaseHook     string
	Status             string `gorm:"index"`
	Phase              string
	ReleaseID          string
	ReleaseVersion     int
	InterruptRequested bool
	ErrDetail          string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (DeployModel) TableName() string { return "deploy_operations" }

type OfflineModel struct {
	UUID      string `gorm:"primaryKey"`
	AppID     string `gorm:"index"`
	Operator  string
	Status    string `gorm:"index"`
	ErrDetail string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OfflineModel) TableName() string { return "offline_operations" }

type ProcessProbeModel struct {
	UUID                string `gorm:"primaryKey"`
	AppID               string `gorm:"uniqueIndex:idx_probe_app_proc_type"`
	ProcessType         string `gorm:"uniqueIndex:idx_probe_app_proc_type"`
	ProbeType           string `gorm:"uniqueIndex:idx_probe_app_proc_type"`
	ExecCommand         string `gorm:"type:text"`
	HTTPPath            string
	Port                int32
	TCPSocket           bool
	InitialDelaySeconds int32
	TimeoutSeconds      int32
	PeriodSeconds       int32
	SuccessThreshold    int32
	FailureThreshold    int32
}

func (ProcessProbeModel) TableName() string { return "process_probes" }

type ResourcePlanModel struct {
	Name      string `gorm:"primaryKey"`
	IsBuiltin bool
	Limits    string `gorm:"type:text"`
	Requests  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ResourcePlanModel) TableName() string { return "resource_plans" }
