package contracts

// Pipeline Stage 정의 (SSOT)
// 모든 로그, 스냅샷, 실행 이력에서 이 상수를 사용해야 함
//
// 파이프라인 흐름:
//   SELECTING_UNIVERSE → FETCHING_PRICES → BUILDING_PANEL → STAGING_LOCAL → LOADING_WAREHOUSE → DONE
//   어느 단계든 실패하면 FAILED (흡수 상태, 롤백 없음)

// Stage represents a pipeline run state
type Stage string

const (
	// StageSelectingUniverse: 기준일 시총 상위 N 종목 선정
	// 위치: internal/s1_universe/
	StageSelectingUniverse Stage = "SELECTING_UNIVERSE"

	// StageFetchingPrices: 종목별 OHLCV 수집 (worker pool)
	// 위치: internal/s0_data/collector/
	StageFetchingPrices Stage = "FETCHING_PRICES"

	// StageBuildingPanel: 캘린더 재색인, 수익률, 거래정지/상하한가 플래그
	// 위치: internal/panel/
	StageBuildingPanel Stage = "BUILDING_PANEL"

	// StageStagingLocal: 원천/패널 Parquet 스냅샷 저장 (+ 선택적 업로드)
	// 위치: internal/snapshot/, internal/storage/
	StageStagingLocal Stage = "STAGING_LOCAL"

	// StageLoadingWarehouse: 멱등 적재 (merge / replace)
	// 위치: internal/warehouse/
	StageLoadingWarehouse Stage = "LOADING_WAREHOUSE"

	// StageDone: 완료
	StageDone Stage = "DONE"

	// StageFailed: 실패 (흡수 상태)
	StageFailed Stage = "FAILED"
)

// AllStages returns the working stages in execution order
func AllStages() []Stage {
	return []Stage{
		StageSelectingUniverse,
		StageFetchingPrices,
		StageBuildingPanel,
		StageStagingLocal,
		StageLoadingWarehouse,
	}
}

// Terminal reports whether no further transition is possible
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// String returns the string representation
func (s Stage) String() string {
	return string(s)
}
