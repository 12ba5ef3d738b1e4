// Package crawlers 提供页面渲染、遍历调度和链接收集
//
// # 概述
//
// crawlers包从一个种子URL出发, 在同源范围内按深度遍历商品目录页面。
// 每个页面经过渲染器得到完整DOM, 交给提取器生成商品记录, 再由链接收集器
// 找出下一层的同源链接。支持静态(Colly)和动态(go-rod)两种渲染模式。
//
// # 核心组件
//
// ## Renderer (渲染器)
//
// 将URL渲染为DOM内容。单次失败返回匹配 ErrRenderFailed 的 *RenderError。
//   - CollyRenderer: 单次HTTP GET, 支持 gzip/deflate/br 解压
//   - RodRenderer: 无头浏览器, 等待网络静默、点击弹窗、自动滚动触发懒加载
//   - FallbackRenderer: all 模式, 静态优先, 失败后使用浏览器
//
// ## Engine (遍历引擎)
//
// 固定数量的worker从无界的 URLQueue 中取目标:
//
//	限速等待 -> 渲染(Retry包装) -> 提取商品 -> 收集链接 -> 子链接以depth+1入队
//
// 种子页面重试后仍失败时运行失败 (models.ErrRootUnreachable);
// 其他页面失败只记录到 CrawlResult.FailedPages。
//
//	engine, err := NewEngine(EngineOptions{
//	    Config:    crawlConfig,
//	    Renderer:  renderer,
//	    Extractor: ext,
//	})
//	result, err := engine.Run(ctx, "https://shop.example.com/")
//
// ## URLQueue (frontier)
//
// 入队时在同一把锁内完成"归一化-深度检查-同源检查-已访问检查-入队",
// 因此同一个URL在一次运行中最多被渲染一次。未完成目标数归零时自动关闭。
// 已访问集合前置布隆过滤器。
//
// ## PagePool (标签页池) 和 ResourceMonitor (资源监控器)
//
// 动态模式下限制同时打开的标签页数量, 上限由可用内存、CPU核数和配置共同决定。
// 归还的标签页清理存储和cookie后复用, 连续清理失败或渲染异常的标签页直接销毁。
//
// ## Governor (重试)
//
// 每个页面最多尝试 Retries 次, 指数退避。ctx取消立即返回, 不计为用尽。
//
// # 并发安全
//
//   - URLQueue: sync.Mutex + 信号channel
//   - PagePool: 槽位channel + sync.Mutex
//   - DomainLimiter: 每个host一个 rate.Limiter
//   - RobotsChecker: LRU缓存
//
// # 运行截止时间
//
// crawl.run_timeout 到达后worker不再取新目标, 进行中的页面正常结束,
// 剩余目标计入 AbandonedTargets 并标记 Truncated。
package crawlers
