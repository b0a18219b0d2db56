package types

// NO_PAGING 分页参数为该值时不做分页
const NO_PAGING = 0

const DEFAULT_PAGE_SIZE = 20
